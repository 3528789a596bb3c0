package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State é o estado do circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Breaker interrompe chamadas a uma dependência depois de Threshold falhas
// consecutivas. Após Cooldown passa a HalfOpen e libera uma única chamada de teste.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     clock.Clock

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	onChange func(name string, from, to State)
}

// NewBreaker cria um breaker fechado.
func NewBreaker(name string, threshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clk,
	}
}

// OnStateChange registra um callback de transição (métricas, alertas).
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow informa se uma chamada pode seguir. Quando não pode, retorna quanto
// falta para o fim do cooldown.
func (b *Breaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	from := b.state
	ok, wait := b.allowLocked()
	to := b.state
	fn := b.onChange
	b.mu.Unlock()

	if from != to && fn != nil {
		fn(b.name, from, to)
	}
	return ok, wait
}

func (b *Breaker) allowLocked() (bool, time.Duration) {
	switch b.state {
	case Closed:
		return true, 0
	case Open:
		if remaining := b.cooldown - b.clock.Since(b.openedAt); remaining > 0 {
			return false, remaining
		}
		b.state = HalfOpen
		b.probing = true
		return true, 0
	default: // HalfOpen: uma chamada de teste por vez
		if b.probing {
			return false, b.cooldown
		}
		b.probing = true
		return true, 0
	}
}

// Success registra uma chamada bem-sucedida e fecha o circuito.
func (b *Breaker) Success() {
	b.transition(func() {
		b.failures = 0
		b.probing = false
		b.state = Closed
	})
}

// Failure registra uma falha; abre o circuito ao atingir o limite ou se a
// chamada de teste em HalfOpen falhar.
func (b *Breaker) Failure() {
	b.transition(func() {
		b.failures++
		b.probing = false
		if b.state == HalfOpen || b.failures >= b.threshold {
			b.state = Open
			b.openedAt = b.clock.Now()
		}
	})
}

// State retorna o estado atual, sem efeitos colaterais.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures retorna o número de falhas consecutivas.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(mutate func()) {
	b.mu.Lock()
	from := b.state
	mutate()
	to := b.state
	fn := b.onChange
	b.mu.Unlock()

	if from != to && fn != nil {
		fn(b.name, from, to)
	}
}
