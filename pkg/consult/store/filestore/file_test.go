package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/store/storetest"
)

func TestFilestoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		st, err := Open(context.Background(), filepath.Join(t.TempDir(), "base.json"), "")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return st
	})
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "base.json")
	st, err := Open(context.Background(), path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rules, _ := st.Rules(context.Background())
	if len(rules) != 0 {
		t.Fatalf("expected no rules, got %d", len(rules))
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("file must not be created before the first change")
	}
}

func TestOpen_RefusesInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.json")
	original := `{"rules": {"1": {"if": {"a": 2}, "then": {}}}}`
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(context.Background(), path, ""); err == nil {
		t.Fatal("expected invalid document to be refused")
	}

	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Fatal("refused document was modified")
	}
}

func TestSave_PersistsInEvaluationOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "base.json")
	st, err := Open(ctx, path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rules := []kb.Rule{
		{
			ID:      "10",
			Premise: kb.Premise{{Fact: "z", Value: kb.True}, {Fact: "a", Value: kb.False}},
			Conclusion: kb.Conclusion{
				Assignments: []kb.Literal{{Fact: "m", Value: kb.True}},
				Action:      "Позвонить врачу",
			},
		},
		{ID: "2", Premise: kb.Premise{{Fact: "a", Value: kb.True}}},
	}
	for _, r := range rules {
		if err := st.PutRule(ctx, r); err != nil {
			t.Fatalf("PutRule %s: %v", r.ID, err)
		}
	}
	if err := st.PutQuestion(ctx, "z", "Зэд?"); err != nil {
		t.Fatalf("PutQuestion: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if strings.Index(text, `"2"`) > strings.Index(text, `"10"`) {
		t.Errorf("rule 2 must be written before rule 10:\n%s", text)
	}
	if !strings.Contains(text, "Позвонить врачу") {
		t.Errorf("non-ASCII action must be written as-is:\n%s", text)
	}

	reopened, err := Open(ctx, path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Rule(ctx, "10")
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if got.Premise[0].Fact != "z" || got.Conclusion.Action != "Позвонить врачу" {
		t.Errorf("reopened rule differs: %+v", got)
	}
	questions, _ := reopened.Questions(ctx)
	if questions["z"] != "Зэд?" {
		t.Errorf("question lost: %v", questions)
	}
}

func TestConsultations_AppendOnlyHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "base.json")
	st, err := Open(ctx, path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := store.Consultation{ID: "c1", StartedAt: started, State: "awaiting_fact"}
	if err := st.SaveConsultation(ctx, c); err != nil {
		t.Fatalf("SaveConsultation: %v", err)
	}
	c.State = "done"
	c.Actions = []string{"X"}
	if err := st.SaveConsultation(ctx, c); err != nil {
		t.Fatalf("SaveConsultation: %v", err)
	}

	data, err := os.ReadFile(path + ".history.jsonl")
	if err != nil {
		t.Fatalf("history file: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("expected 2 history lines, got %d", lines)
	}

	reopened, err := Open(ctx, path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	history, err := reopened.Consultations(ctx, 0)
	if err != nil {
		t.Fatalf("Consultations: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 consultation, got %d", len(history))
	}
	if history[0].State != "done" || len(history[0].Actions) != 1 {
		t.Errorf("latest record should win: %+v", history[0])
	}
	if !history[0].StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", history[0].StartedAt, started)
	}
}
