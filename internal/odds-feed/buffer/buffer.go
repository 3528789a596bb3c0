// Package buffer implementa a fila limitada entre ingestão e publicação.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// ErrClosed é devolvido por Enqueue depois de Close.
var ErrClosed = errors.New("publish buffer closed")

// Mode é a política aplicada quando a fila está cheia.
type Mode int

const (
	// DropOldest descarta a tarefa mais antiga para abrir espaço.
	DropOldest Mode = iota
	// Block segura o produtor até haver espaço.
	Block
)

func (m Mode) String() string {
	switch m {
	case DropOldest:
		return "drop-oldest"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode aceita "block" ou "drop-oldest".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "drop-oldest", "drop_oldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	default:
		return 0, fmt.Errorf("invalid backpressure mode %q (want block or drop-oldest)", s)
	}
}

// Task é uma atualização aguardando publicação, com metadados de retry.
type Task struct {
	Update          events.OddsUpdate
	Attempts        int
	FirstEnqueuedAt time.Time
}

// Stats é um retrato dos contadores da fila.
type Stats struct {
	Len      int   `json:"len"`
	Cap      int   `json:"cap"`
	Enqueued int64 `json:"enqueued"`
	Dequeued int64 `json:"dequeued"`
	Requeued int64 `json:"requeued"`
	Dropped  int64 `json:"dropped"`
}

// PublishBuffer é um FIFO circular protegido por mutex + cond.
// Requeue devolve uma tarefa à cabeça, então o anel tem uma posição a mais
// que a capacidade lógica para caber a tarefa em voo no modo Block.
type PublishBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Task
	head     int
	count    int
	capacity int
	mode     Mode
	closed   bool
	clock    clock.Clock
	onDrop   func(Task)

	enqueued int64
	dequeued int64
	requeued int64
	dropped  int64
}

// New cria a fila. onDrop (opcional) recebe cada tarefa descartada, fora do lock.
func New(capacity int, mode Mode, clk clock.Clock, onDrop func(Task)) *PublishBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	b := &PublishBuffer{
		buf:      make([]Task, capacity+1),
		capacity: capacity,
		mode:     mode,
		clock:    clk,
		onDrop:   onDrop,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Enqueue insere a tarefa no fim da fila. Cheia em modo Block, espera espaço
// até ctx terminar; em modo DropOldest descarta a cabeça.
func (b *PublishBuffer) Enqueue(ctx context.Context, t Task) error {
	var lost []Task

	b.mu.Lock()
	if b.mode == Block && b.count >= b.capacity && !b.closed {
		stop := context.AfterFunc(ctx, b.wake)
		for b.count >= b.capacity && !b.closed && ctx.Err() == nil {
			b.cond.Wait()
		}
		stop()
	}

	switch {
	case b.closed:
		b.mu.Unlock()
		return ErrClosed
	case b.count >= b.capacity && b.mode == Block:
		b.mu.Unlock()
		return ctx.Err()
	}

	for b.count >= b.capacity {
		lost = append(lost, b.popLocked())
		b.dropped++
	}

	if t.FirstEnqueuedAt.IsZero() {
		t.FirstEnqueuedAt = b.clock.Now()
	}
	b.buf[(b.head+b.count)%len(b.buf)] = t
	b.count++
	b.enqueued++
	b.cond.Broadcast()
	b.mu.Unlock()

	b.reportDrops(lost)
	return nil
}

// Requeue devolve à cabeça uma tarefa cuja publicação falhou, preservando a
// ordem do mercado. Em DropOldest com a fila cheia a própria tarefa é descartada.
// Funciona também depois de Close, para que o worker termine o dreno.
func (b *PublishBuffer) Requeue(t Task) {
	b.mu.Lock()
	if b.mode == DropOldest && b.count >= b.capacity {
		b.dropped++
		b.mu.Unlock()
		b.reportDrops([]Task{t})
		return
	}
	var lost []Task
	if b.count == len(b.buf) {
		// só acontece com mais de uma tarefa em voo; a mais recente na fila perde
		tail := (b.head + b.count - 1) % len(b.buf)
		lost = append(lost, b.buf[tail])
		b.buf[tail] = Task{}
		b.count--
		b.dropped++
	}
	b.head = (b.head - 1 + len(b.buf)) % len(b.buf)
	b.buf[b.head] = t
	b.count++
	b.requeued++
	b.cond.Broadcast()
	b.mu.Unlock()

	b.reportDrops(lost)
}

// Dequeue bloqueia até haver uma tarefa. Devolve false quando a fila está
// fechada e vazia, ou quando ctx termina.
func (b *PublishBuffer) Dequeue(ctx context.Context) (Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 && !b.closed {
		stop := context.AfterFunc(ctx, b.wake)
		for b.count == 0 && !b.closed && ctx.Err() == nil {
			b.cond.Wait()
		}
		stop()
	}

	if b.count == 0 || ctx.Err() != nil {
		return Task{}, false
	}
	t := b.popLocked()
	b.dequeued++
	b.cond.Broadcast()
	return t, true
}

// Drain remove e devolve tudo o que restou na fila.
func (b *PublishBuffer) Drain() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Task, 0, b.count)
	for b.count > 0 {
		out = append(out, b.popLocked())
	}
	b.cond.Broadcast()
	return out
}

// Close recusa novos Enqueue e acorda quem estiver esperando. O que já está
// na fila continua disponível para Dequeue.
func (b *PublishBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *PublishBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *PublishBuffer) Cap() int { return b.capacity }

func (b *PublishBuffer) Mode() Mode { return b.mode }

func (b *PublishBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Len:      b.count,
		Cap:      b.capacity,
		Enqueued: b.enqueued,
		Dequeued: b.dequeued,
		Requeued: b.requeued,
		Dropped:  b.dropped,
	}
}

// popLocked remove a cabeça. Chamar com o lock e count > 0.
func (b *PublishBuffer) popLocked() Task {
	t := b.buf[b.head]
	b.buf[b.head] = Task{}
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	return t
}

func (b *PublishBuffer) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *PublishBuffer) reportDrops(lost []Task) {
	if b.onDrop == nil {
		return
	}
	for _, t := range lost {
		b.onDrop(t)
	}
}
