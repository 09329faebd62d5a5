// Package storetest holds the behaviour every store.Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
)

// Opener returns a fresh, empty store using kb.DefaultActionKey.
type Opener func(t *testing.T) store.Store

// Run exercises a backend against the store.Store contract.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"RulesInNumericOrder", testRulesInNumericOrder},
		{"PutRuleValidates", testPutRuleValidates},
		{"RuleNotFound", testRuleNotFound},
		{"AddBlankRule", testAddBlankRule},
		{"DeleteRule", testDeleteRule},
		{"MoveRule", testMoveRule},
		{"DeleteFact", testDeleteFact},
		{"SyncFacts", testSyncFacts},
		{"KnowledgeBaseSnapshot", testKnowledgeBaseSnapshot},
		{"Consultations", testConsultations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := open(t)
			t.Cleanup(func() { st.Close() })
			tt.fn(t, st)
		})
	}
}

func rule(id string, premise kb.Premise, action string, assigns ...kb.Literal) kb.Rule {
	return kb.Rule{ID: id, Premise: premise, Conclusion: kb.Conclusion{Assignments: assigns, Action: action}}
}

func ids(rules []kb.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func testRulesInNumericOrder(t *testing.T, st store.Store) {
	ctx := context.Background()
	for _, id := range []string{"10", "2", "1"} {
		require.NoError(t, st.PutRule(ctx, rule(id, kb.Premise{{Fact: "a", Value: kb.True}}, "act-"+id)))
	}

	rules, err := st.Rules(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "10"}, ids(rules))

	got, err := st.Rule(ctx, "10")
	require.NoError(t, err)
	require.Equal(t, "act-10", got.Conclusion.Action)
	require.Equal(t, kb.Premise{{Fact: "a", Value: kb.True}}, got.Premise)
}

func testPutRuleValidates(t *testing.T, st store.Store) {
	ctx := context.Background()
	err := st.PutRule(ctx, rule("1", kb.Premise{{Fact: "a", Value: kb.Value(3)}}, ""))
	require.ErrorIs(t, err, internalerr.ErrInvalidInput)

	err = st.PutRule(ctx, rule("one", nil, "x"))
	require.ErrorIs(t, err, internalerr.ErrInvalidInput)

	err = st.PutRule(ctx, rule("1", kb.Premise{{Fact: kb.DefaultActionKey, Value: kb.True}}, ""))
	require.ErrorIs(t, err, internalerr.ErrInvalidInput)

	rules, err := st.Rules(ctx)
	require.NoError(t, err)
	require.Empty(t, rules)
}

func testRuleNotFound(t *testing.T, st store.Store) {
	_, err := st.Rule(context.Background(), "42")
	require.ErrorIs(t, err, internalerr.ErrNotFound)
}

func testAddBlankRule(t *testing.T, st store.Store) {
	ctx := context.Background()
	id, err := st.AddBlankRule(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", id)

	require.NoError(t, st.PutRule(ctx, rule("7", nil, "x")))
	id, err = st.AddBlankRule(ctx)
	require.NoError(t, err)
	require.Equal(t, "8", id)

	blank, err := st.Rule(ctx, "8")
	require.NoError(t, err)
	require.Empty(t, blank.Premise)
	require.False(t, blank.Conclusion.HasAction())
}

func testDeleteRule(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.PutRule(ctx, rule("1", nil, "x")))

	ok, err := st.DeleteRule(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.DeleteRule(ctx, "1")
	require.NoError(t, err)
	require.False(t, ok)
}

func testMoveRule(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.PutRule(ctx, rule("1", nil, "first")))
	require.NoError(t, st.PutRule(ctx, rule("5", nil, "second")))
	require.NoError(t, st.PutRule(ctx, rule("9", nil, "third")))

	require.NoError(t, st.MoveRuleUp(ctx, "5"))
	actions := func() []string {
		rules, err := st.Rules(ctx)
		require.NoError(t, err)
		out := make([]string, len(rules))
		for i, r := range rules {
			out[i] = r.Conclusion.Action
		}
		return out
	}
	require.Equal(t, []string{"second", "first", "third"}, actions())

	require.NoError(t, st.MoveRuleDown(ctx, "5"))
	require.Equal(t, []string{"second", "third", "first"}, actions())

	// Edges are no-ops.
	require.NoError(t, st.MoveRuleUp(ctx, "1"))
	require.NoError(t, st.MoveRuleDown(ctx, "9"))
	require.Equal(t, []string{"second", "third", "first"}, actions())

	require.ErrorIs(t, st.MoveRuleUp(ctx, "404"), internalerr.ErrNotFound)
}

func testDeleteFact(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.PutRule(ctx, rule("1", kb.Premise{{Fact: "used", Value: kb.True}}, "x",
		kb.Literal{Fact: "derived", Value: kb.True})))
	require.NoError(t, st.PutQuestion(ctx, "used", "Used?"))
	require.NoError(t, st.PutQuestion(ctx, "derived", "Derived?"))
	require.NoError(t, st.PutQuestion(ctx, "spare", "Spare?"))

	_, err := st.DeleteFact(ctx, "used")
	require.ErrorIs(t, err, internalerr.ErrInUse)
	_, err = st.DeleteFact(ctx, "derived")
	require.ErrorIs(t, err, internalerr.ErrInUse)
	_, err = st.DeleteFact(ctx, kb.DefaultActionKey)
	require.ErrorIs(t, err, internalerr.ErrInvalidInput)

	ok, err := st.DeleteFact(ctx, "spare")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.DeleteFact(ctx, "spare")
	require.NoError(t, err)
	require.False(t, ok)

	questions, err := st.Questions(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"used": "Used?", "derived": "Derived?"}, questions)
}

func testSyncFacts(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.PutRule(ctx, rule("1", kb.Premise{{Fact: "a", Value: kb.True}}, "x",
		kb.Literal{Fact: "b", Value: kb.False})))
	require.NoError(t, st.PutQuestion(ctx, "a", "A?"))

	require.NoError(t, st.SyncFacts(ctx))

	questions, err := st.Questions(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "A?", "b": ""}, questions)
}

func testKnowledgeBaseSnapshot(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.PutRule(ctx, rule("2", kb.Premise{{Fact: "z", Value: kb.True}, {Fact: "a", Value: kb.False}}, "two")))
	require.NoError(t, st.PutRule(ctx, rule("1", nil, "one")))
	require.NoError(t, st.PutQuestion(ctx, "z", "Zed?"))

	snap, err := st.KnowledgeBase(ctx)
	require.NoError(t, err)
	require.True(t, snap.Valid())
	require.Equal(t, kb.DefaultActionKey, snap.ActionKey())
	require.Equal(t, []string{"1", "2"}, ids(snap.Rules()))
	require.Equal(t, "z", snap.Rules()[1].Premise[0].Fact, "premise order must survive storage")
	require.Equal(t, "Zed?", snap.Question("z"))

	require.NoError(t, st.PutRule(ctx, rule("3", nil, "three")))
	require.Equal(t, 2, snap.Len(), "snapshot must not see later edits")
}

func testConsultations(t *testing.T, st store.Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := store.Consultation{
		ID:        "01OLDER",
		StartedAt: base,
		State:     "awaiting_fact",
		Answers:   []store.Answer{{Fact: "a", Value: kb.True}},
	}
	newer := store.Consultation{
		ID:         "01NEWER",
		StartedAt:  base.Add(time.Minute),
		FinishedAt: base.Add(2 * time.Minute),
		State:      "done",
		Answers:    []store.Answer{{Fact: "a", Value: kb.Unknown}},
		Actions:    []string{"X"},
		Applied:    []string{"1"},
	}
	require.NoError(t, st.SaveConsultation(ctx, older))
	require.NoError(t, st.SaveConsultation(ctx, newer))

	older.State = "done"
	older.FinishedAt = base.Add(5 * time.Minute)
	require.NoError(t, st.SaveConsultation(ctx, older))

	got, err := st.Consultations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "01NEWER", got[0].ID)
	require.Equal(t, []string{"X"}, got[0].Actions)
	require.Equal(t, kb.Unknown, got[0].Answers[0].Value)
	require.True(t, got[0].FinishedAt.Equal(newer.FinishedAt))
	require.Equal(t, "done", got[1].State, "saving again replaces the record")

	limited, err := st.Consultations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.ErrorIs(t, st.SaveConsultation(ctx, store.Consultation{}), internalerr.ErrInvalidInput)
}
