package worker

import (
	"errors"

	"github.com/google/uuid"
)

// UnitKind selects what the worker generates for a unit.
type UnitKind string

const (
	// UnitConversation generates the AI reply to a user message.
	UnitConversation UnitKind = "conversation"
	// UnitDeepening generates the initial deepening questions for a fresh
	// conversation.
	UnitDeepening UnitKind = "deepening"
)

// Unit is one enqueued generation request.
type Unit struct {
	Kind           UnitKind
	ConversationID uuid.UUID
	// MessageID is the triggering user message; uuid.Nil for deepening
	// units, which have no trigger.
	MessageID uuid.UUID
}

// ErrQueueFull is returned when the queue cannot accept more work.
var ErrQueueFull = errors.New("generation queue full")

// Queue hands generation units to the worker pool. Delivery is
// at-least-once from the caller's point of view: a unit accepted here will
// be picked up by some worker unless the process dies first.
type Queue struct {
	units chan Unit
}

func NewQueue(size int) *Queue {
	return &Queue{units: make(chan Unit, size)}
}

// Enqueue adds a unit without blocking the request path.
func (q *Queue) Enqueue(unit Unit) error {
	select {
	case q.units <- unit:
		return nil
	default:
		return ErrQueueFull
	}
}

// Units exposes the consumption side for the pool.
func (q *Queue) Units() <-chan Unit {
	return q.units
}
