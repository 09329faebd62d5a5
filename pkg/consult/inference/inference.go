// Package inference runs a forward-chaining consultation over a knowledge
// base, pausing whenever a rule needs a fact nobody has supplied yet.
package inference

import (
	"context"
	"fmt"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
)

// State is the position of a session in its lifecycle.
type State int

const (
	Running State = iota
	AwaitingFact
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case AwaitingFact:
		return "awaiting_fact"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Question asks for the value of a fact.
type Question struct {
	Fact string
	Text string
}

// Answer is a fact value supplied from outside the session.
type Answer struct {
	Fact  string
	Value kb.Value
}

// FactSource supplies answers to the session's questions: a person at a
// prompt, a form, or a script.
type FactSource interface {
	Ask(ctx context.Context, q Question) (kb.Value, error)
}

// FactSourceFunc adapts a function to FactSource.
type FactSourceFunc func(ctx context.Context, q Question) (kb.Value, error)

func (f FactSourceFunc) Ask(ctx context.Context, q Question) (kb.Value, error) {
	return f(ctx, q)
}

// MapSource answers from a fixed set of facts. Asking for a fact it does
// not hold fails with internalerr.ErrNotFound.
type MapSource map[string]kb.Value

func (m MapSource) Ask(_ context.Context, q Question) (kb.Value, error) {
	v, ok := m[q.Fact]
	if !ok {
		return 0, fmt.Errorf("fact %q: %w", q.Fact, internalerr.ErrNotFound)
	}
	return v, nil
}

// Drive steps the session and relays every question to src until the
// session is done, src fails, or ctx is cancelled.
func Drive(ctx context.Context, s *Session, src FactSource) error {
	for s.Step() == AwaitingFact {
		if err := ctx.Err(); err != nil {
			return err
		}
		q, _ := s.PendingQuestion()
		v, err := src.Ask(ctx, q)
		if err != nil {
			return fmt.Errorf("ask %s: %w", q.Fact, err)
		}
		if err := s.SubmitFact(q.Fact, v); err != nil {
			return err
		}
	}
	return nil
}
