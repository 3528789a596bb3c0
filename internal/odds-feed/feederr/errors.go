// Package feederr classifica falhas das dependências externas (fornecedor e broker)
// para que o supervisor decida entre backoff, circuito aberto ou parada.
package feederr

import (
	"errors"
	"fmt"
	"time"
)

// Class é a classificação de uma falha por chamada.
type Class int

const (
	Transient Class = iota
	RateLimited
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Error carrega a classe da falha, a operação e, para RateLimited, o atraso pedido.
type Error struct {
	Class      Class
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Class.String()
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewTransient(op string, err error) error {
	return &Error{Class: Transient, Op: op, Err: err}
}

func NewFatal(op string, err error) error {
	return &Error{Class: Fatal, Op: op, Err: err}
}

func NewRateLimited(op string, retryAfter time.Duration, err error) error {
	return &Error{Class: RateLimited, Op: op, RetryAfter: retryAfter, Err: err}
}

// ClassOf devolve a classe de err. Erros não classificados, inclusive timeouts
// e cancelamentos de contexto, são tratados como Transient.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return Transient
}

// RetryAfter devolve o atraso pedido pelo fornecedor, se houver.
func RetryAfter(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) && fe.Class == RateLimited {
		return fe.RetryAfter
	}
	return 0
}

// IsFatal é atalho para ClassOf(err) == Fatal.
func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == Fatal
}
