package feed

import (
	"fmt"
	"time"

	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sequence"
)

// State é o estado do supervisor.
//
//	Starting → Polling → (Backoff | CircuitOpen) → Polling → Stopping → Stopped
type State int

const (
	Starting State = iota
	Polling
	Backoff
	CircuitOpen
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Polling:
		return "polling"
	case Backoff:
		return "backoff"
	case CircuitOpen:
		return "circuit_open"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Hooks são callbacks de observabilidade; todos opcionais.
type Hooks struct {
	OnStateChange    func(from, to State)
	OnFetch          func(records int, took time.Duration)
	OnFetchError     func(class feederr.Class)
	OnNormalizeError func(reason string)
	OnAdmitted       func(gap bool)
	OnRejected       func(decision sequence.Decision)
	OnPublished      func(sinceEnqueue time.Duration)
	OnPublishError   func(class feederr.Class)
	OnDeadLetter     func(cause string)
	OnCircuitChange  func(dependency string, to resilience.State)
}

// Status é o retrato exposto em /v1/status.
type Status struct {
	State          string       `json:"state"`
	SourceCircuit  string       `json:"source_circuit"`
	SinkCircuit    string       `json:"sink_circuit"`
	SourceFailures int          `json:"source_failures"`
	SinkFailures   int          `json:"sink_failures"`
	Buffer         buffer.Stats `json:"buffer"`
	Markets        int          `json:"markets"`
	Published      int64        `json:"published"`
	DeadLettered   int64        `json:"dead_lettered"`
	LastFetchAt    *time.Time   `json:"last_fetch_at,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
}
