package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
)

func TestNextRuleID(t *testing.T) {
	tests := []struct {
		name  string
		rules []kb.Rule
		want  string
	}{
		{"empty", nil, "1"},
		{"gap", []kb.Rule{{ID: "1"}, {ID: "5"}, {ID: "3"}}, "6"},
		{"non-numeric ignored", []kb.Rule{{ID: "2"}, {ID: "x"}}, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRuleID(tt.rules); got != tt.want {
				t.Errorf("NextRuleID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNeighbor(t *testing.T) {
	rules := []kb.Rule{{ID: "10"}, {ID: "2"}, {ID: "1"}}

	if id, ok, err := Neighbor(rules, "2", 1); err != nil || !ok || id != "10" {
		t.Errorf("Neighbor(2, +1) = %q, %v, %v", id, ok, err)
	}
	if id, ok, err := Neighbor(rules, "2", -1); err != nil || !ok || id != "1" {
		t.Errorf("Neighbor(2, -1) = %q, %v, %v", id, ok, err)
	}
	if _, ok, err := Neighbor(rules, "10", 1); err != nil || ok {
		t.Errorf("Neighbor(10, +1) should be at the edge: %v, %v", ok, err)
	}
	if _, _, err := Neighbor(rules, "7", 1); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSwapBodies(t *testing.T) {
	a := kb.Rule{ID: "1", Conclusion: kb.Conclusion{Action: "A"}}
	b := kb.Rule{ID: "2", Conclusion: kb.Conclusion{Action: "B"}}
	na, nb := SwapBodies(a, b)
	if na.ID != "1" || na.Conclusion.Action != "B" {
		t.Errorf("first = %+v", na)
	}
	if nb.ID != "2" || nb.Conclusion.Action != "A" {
		t.Errorf("second = %+v", nb)
	}
}

func TestMissingFacts(t *testing.T) {
	rules := []kb.Rule{{
		ID:      "1",
		Premise: kb.Premise{{Fact: "b", Value: kb.True}, {Fact: "a", Value: kb.False}},
		Conclusion: kb.Conclusion{
			Assignments: []kb.Literal{{Fact: "c", Value: kb.True}},
			Action:      "X",
		},
	}}
	got := MissingFacts(rules, map[string]string{"a": "A?"})
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("MissingFacts = %v, want [b c]", got)
	}
}

func TestRecent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cs := []Consultation{
		{ID: "a", StartedAt: base},
		{ID: "c", StartedAt: base.Add(time.Hour)},
		{ID: "b", StartedAt: base.Add(time.Hour)},
	}
	got := Recent(cs, 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("Recent = %+v", got)
	}
}

type recordingStore struct {
	Store
	rules     []kb.Rule
	questions map[string]string
}

func (r *recordingStore) PutRule(ctx context.Context, rule kb.Rule) error {
	r.rules = append(r.rules, rule)
	return nil
}

func (r *recordingStore) PutQuestion(ctx context.Context, fact, text string) error {
	if r.questions == nil {
		r.questions = make(map[string]string)
	}
	r.questions[fact] = text
	return nil
}

func TestImport(t *testing.T) {
	k, err := kb.New(
		[]kb.Rule{{ID: "2"}, {ID: "1", Premise: kb.Premise{{Fact: "a", Value: kb.True}}}},
		map[string]string{"a": "A?"},
	)
	if err != nil {
		t.Fatalf("kb.New: %v", err)
	}
	rec := &recordingStore{}
	if err := Import(context.Background(), rec, k); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(rec.rules) != 2 || rec.rules[0].ID != "1" {
		t.Errorf("rules imported out of order: %+v", rec.rules)
	}
	if rec.questions["a"] != "A?" {
		t.Errorf("questions = %v", rec.questions)
	}
}
