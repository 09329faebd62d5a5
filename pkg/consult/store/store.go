package store

import (
	"context"
	"sort"
	"time"

	"github.com/cognicore/consult/pkg/consult/kb"
)

// Store is the main interface for persisting a knowledge base and the
// consultations run against it.
type Store interface {
	Close() error

	// KnowledgeBase returns a validated snapshot of the current rules and
	// questions. Later edits do not affect a snapshot already taken.
	KnowledgeBase(ctx context.Context) (*kb.KnowledgeBase, error)

	// Rules
	Rules(ctx context.Context) ([]kb.Rule, error)
	Rule(ctx context.Context, id string) (kb.Rule, error)
	PutRule(ctx context.Context, r kb.Rule) error
	AddBlankRule(ctx context.Context) (string, error)
	DeleteRule(ctx context.Context, id string) (bool, error)
	MoveRuleUp(ctx context.Context, id string) error
	MoveRuleDown(ctx context.Context, id string) error

	// Question catalog
	Questions(ctx context.Context) (map[string]string, error)
	PutQuestion(ctx context.Context, fact, text string) error
	DeleteFact(ctx context.Context, fact string) (bool, error)
	SyncFacts(ctx context.Context) error

	// Consultation history
	SaveConsultation(ctx context.Context, c Consultation) error
	Consultations(ctx context.Context, limit int) ([]Consultation, error)
}

// Consultation is the record of a finished or abandoned consultation.
type Consultation struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	Answers    []Answer
	Actions    []string
	Applied    []string // rule IDs in firing order
}

// Answer is one answer given during a consultation.
type Answer struct {
	Fact  string   `json:"fact"`
	Value kb.Value `json:"value"`
}

// Recent orders consultations newest first and keeps at most limit of
// them. A non-positive limit keeps 20.
func Recent(cs []Consultation, limit int) []Consultation {
	if limit <= 0 {
		limit = 20
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].StartedAt.Equal(cs[j].StartedAt) {
			return cs[i].StartedAt.After(cs[j].StartedAt)
		}
		return cs[i].ID > cs[j].ID
	})
	if len(cs) > limit {
		cs = cs[:limit]
	}
	return cs
}
