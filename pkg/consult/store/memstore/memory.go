package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu            sync.RWMutex
	actionKey     string
	rules         map[string]kb.Rule
	questions     map[string]string
	consultations []store.Consultation
}

// New creates a new in-memory store. An empty actionKey selects
// kb.DefaultActionKey.
func New(actionKey string) *Store {
	return &Store{
		actionKey: store.ActionKey(actionKey),
		rules:     make(map[string]kb.Rule),
		questions: make(map[string]string),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// ActionKey returns the conclusion key collected as an action.
func (s *Store) ActionKey() string { return s.actionKey }

// KnowledgeBase returns a snapshot of the stored rules and questions.
func (s *Store) KnowledgeBase(ctx context.Context) (*kb.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return kb.New(s.sortedRules(), s.questions, kb.WithActionKey(s.actionKey))
}

// Rules returns every rule in evaluation order.
func (s *Store) Rules(ctx context.Context) ([]kb.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedRules(), nil
}

func (s *Store) sortedRules() []kb.Rule {
	out := make([]kb.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	kb.SortRules(out)
	return out
}

// Rule returns a rule by ID.
func (s *Store) Rule(ctx context.Context, id string) (kb.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return kb.Rule{}, fmt.Errorf("rule %s: %w", id, internalerr.ErrNotFound)
	}
	return r.Clone(), nil
}

// PutRule inserts or replaces a rule, keyed by ID.
func (s *Store) PutRule(ctx context.Context, r kb.Rule) error {
	if err := store.ValidateRule(r, s.actionKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r.Clone()
	return nil
}

// AddBlankRule appends an empty rule after the last one and returns its ID.
func (s *Store) AddBlankRule(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := store.NextRuleID(s.sortedRules())
	s.rules[id] = store.BlankRule(id)
	return id, nil
}

// DeleteRule removes a rule and reports whether it existed.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return false, nil
	}
	delete(s.rules, id)
	return true, nil
}

// MoveRuleUp swaps a rule with the one evaluated before it.
func (s *Store) MoveRuleUp(ctx context.Context, id string) error {
	return s.move(id, -1)
}

// MoveRuleDown swaps a rule with the one evaluated after it.
func (s *Store) MoveRuleDown(ctx context.Context, id string) error {
	return s.move(id, 1)
}

func (s *Store) move(id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	other, ok, err := store.Neighbor(s.sortedRules(), id, delta)
	if err != nil || !ok {
		return err
	}
	a, b := store.SwapBodies(s.rules[id], s.rules[other])
	s.rules[a.ID] = a
	s.rules[b.ID] = b
	return nil
}

// Questions returns a copy of the question catalog.
func (s *Store) Questions(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.questions))
	for fact, q := range s.questions {
		out[fact] = q
	}
	return out, nil
}

// PutQuestion sets the question asked for fact.
func (s *Store) PutQuestion(ctx context.Context, fact, text string) error {
	if fact == "" {
		return fmt.Errorf("empty fact name: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[fact] = text
	return nil
}

// DeleteFact removes a fact from the catalog. Facts still used by a rule
// and the action key cannot be deleted.
func (s *Store) DeleteFact(ctx context.Context, fact string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.CheckDeletableFact(s.sortedRules(), fact, s.actionKey); err != nil {
		return false, err
	}
	if _, ok := s.questions[fact]; !ok {
		return false, nil
	}
	delete(s.questions, fact)
	return true, nil
}

// SyncFacts adds an empty catalog entry for every fact a rule uses.
func (s *Store) SyncFacts(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fact := range store.MissingFacts(s.sortedRules(), s.questions) {
		s.questions[fact] = ""
	}
	return nil
}

// SaveConsultation records a consultation, replacing one with the same ID.
func (s *Store) SaveConsultation(ctx context.Context, c store.Consultation) error {
	if c.ID == "" {
		return fmt.Errorf("consultation without id: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c = copyConsultation(c)
	for i := range s.consultations {
		if s.consultations[i].ID == c.ID {
			s.consultations[i] = c
			return nil
		}
	}
	s.consultations = append(s.consultations, c)
	return nil
}

// Consultations returns the most recent consultations first.
func (s *Store) Consultations(ctx context.Context, limit int) ([]store.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Consultation, 0, len(s.consultations))
	for _, c := range s.consultations {
		out = append(out, copyConsultation(c))
	}
	return store.Recent(out, limit), nil
}

func copyConsultation(c store.Consultation) store.Consultation {
	c.Answers = slices.Clone(c.Answers)
	c.Actions = slices.Clone(c.Actions)
	c.Applied = slices.Clone(c.Applied)
	return c
}
