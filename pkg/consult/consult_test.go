package consult

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/store/memstore"
)

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	st := memstore.New("")
	rules := []kb.Rule{
		{
			ID:      "1",
			Premise: kb.Premise{{Fact: "fever", Value: kb.True}},
			Conclusion: kb.Conclusion{
				Assignments: []kb.Literal{{Fact: "ill", Value: kb.True}},
			},
		},
		{
			ID:      "2",
			Premise: kb.Premise{{Fact: "ill", Value: kb.True}, {Fact: "cough", Value: kb.True}},
			Conclusion: kb.Conclusion{
				Action: "See a doctor",
			},
		},
		{
			ID:         "3",
			Premise:    kb.Premise{{Fact: "fever", Value: kb.False}},
			Conclusion: kb.Conclusion{Action: "Stay home"},
		},
	}
	for _, r := range rules {
		if err := st.PutRule(ctx, r); err != nil {
			t.Fatalf("PutRule: %v", err)
		}
	}
	if err := st.PutQuestion(ctx, "fever", "Do you have a fever?"); err != nil {
		t.Fatalf("PutQuestion: %v", err)
	}
	return st
}

func TestConsultationFlow(t *testing.T) {
	ctx := context.Background()
	c := New(Options{Store: seededStore(t)})
	defer c.Close()

	cons, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if cons.ID == "" {
		t.Fatal("consultation must have an id")
	}

	q, ok := c.Question(cons)
	if !ok || q.Fact != "fever" || q.Text != "Do you have a fever?" {
		t.Fatalf("first question = %+v, %v", q, ok)
	}
	if err := c.Answer(ctx, cons, "fever", kb.True); err != nil {
		t.Fatalf("Answer fever: %v", err)
	}

	q, ok = c.Question(cons)
	if !ok || q.Fact != "cough" || q.Text != "cough" {
		t.Fatalf("second question = %+v, %v", q, ok)
	}
	if err := c.Answer(ctx, cons, "cough", kb.True); err != nil {
		t.Fatalf("Answer cough: %v", err)
	}
	if cons.Session.State() != inference.Done {
		t.Fatalf("state = %v, want done", cons.Session.State())
	}

	rec, err := c.Finish(ctx, cons)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if rec.FinishedAt.IsZero() {
		t.Error("finished consultation must carry FinishedAt")
	}

	history, err := c.History(ctx, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 saved consultation, got %d", len(history))
	}
	want := store.Consultation{
		ID:        cons.ID,
		StartedAt: cons.StartedAt,
		State:     "done",
		Answers: []store.Answer{
			{Fact: "fever", Value: kb.True},
			{Fact: "cough", Value: kb.True},
		},
		Actions: []string{"See a doctor"},
		Applied: []string{"1", "2"},
	}
	got := history[0]
	got.FinishedAt = want.FinishedAt
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("saved consultation mismatch (-want +got):\n%s", diff)
	}
}

func TestRunWithMapSource(t *testing.T) {
	ctx := context.Background()
	c := New(Options{Store: seededStore(t)})

	cons, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Run(ctx, cons, inference.MapSource{"fever": kb.False, "ill": kb.False}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"Stay home"}, cons.Session.Actions()); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMissingAnswer(t *testing.T) {
	ctx := context.Background()
	c := New(Options{Store: seededStore(t)})

	cons, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err = c.Run(ctx, cons, inference.MapSource{"fever": kb.True})
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cough, got %v", err)
	}
	if cons.Session.State() != inference.AwaitingFact {
		t.Fatalf("state = %v, want awaiting_fact", cons.Session.State())
	}

	rec, err := c.Finish(ctx, cons)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !rec.FinishedAt.IsZero() || rec.State != "awaiting_fact" {
		t.Errorf("partial record = %+v", rec)
	}
}

func TestResumeContinuesWhereItStopped(t *testing.T) {
	ctx := context.Background()
	c := New(Options{Store: seededStore(t)})

	cons, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Answer(ctx, cons, "fever", kb.True); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	rec, err := c.Finish(ctx, cons)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	resumed, err := c.Resume(ctx, rec)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ID != cons.ID {
		t.Errorf("resumed id = %s, want %s", resumed.ID, cons.ID)
	}
	q, ok := c.Question(resumed)
	if !ok || q.Fact != "cough" {
		t.Fatalf("resumed question = %+v, %v", q, ok)
	}
}

func TestBeginEmptyStoreIsDone(t *testing.T) {
	c := New(Options{})
	cons, err := c.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if cons.Session.State() != inference.Done {
		t.Fatalf("state = %v, want done", cons.Session.State())
	}
	if _, ok := c.Question(cons); ok {
		t.Fatal("empty knowledge base must not ask anything")
	}
}

func TestAnswerRefusesWrongFact(t *testing.T) {
	ctx := context.Background()
	c := New(Options{Store: seededStore(t)})
	cons, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	err = c.Answer(ctx, cons, "cough", kb.True)
	var perr *inference.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if q, _ := c.Question(cons); q.Fact != "fever" {
		t.Errorf("refused answer changed the pending question to %q", q.Fact)
	}
}

func TestConsultationIDsAreUnique(t *testing.T) {
	c := New(Options{})
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		cons, err := c.Begin(context.Background())
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if seen[cons.ID] {
			t.Fatalf("duplicate id %s", cons.ID)
		}
		seen[cons.ID] = true
	}
}
