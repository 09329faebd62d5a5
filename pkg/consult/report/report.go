// Package report renders rules and consultation outcomes for people.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/kb"
)

// RuleText renders a rule on one line, for example
//
//	IF (fever == 1 and cough == 0) THEN ill = 1 and action = Rest
func RuleText(r kb.Rule, actionKey string) string {
	conds := make([]string, len(r.Premise))
	for i, l := range r.Premise {
		conds[i] = fmt.Sprintf("%s == %s", l.Fact, l.Value)
	}

	var then []string
	for _, l := range r.Conclusion.Assignments {
		then = append(then, fmt.Sprintf("%s = %s", l.Fact, l.Value))
	}
	if r.Conclusion.HasAction() {
		then = append(then, fmt.Sprintf("%s = %s", actionKey, r.Conclusion.Action))
	}

	return strings.TrimSpace(fmt.Sprintf("IF (%s) THEN %s",
		strings.Join(conds, " and "), strings.Join(then, " and ")))
}

// Exchange is one question put to the user and the answer given.
type Exchange struct {
	Fact     string
	Question string
	Value    kb.Value
}

// Transcript is everything a report shows about a consultation.
type Transcript struct {
	ID        string
	State     inference.State
	ActionKey string
	Exchanges []Exchange
	Actions   []string
	Applied   []kb.Rule
}

// FromSession captures the current outcome of a session.
func FromSession(id string, s *inference.Session) Transcript {
	base := s.KnowledgeBase()
	t := Transcript{
		ID:        id,
		State:     s.State(),
		ActionKey: base.ActionKey(),
		Actions:   s.Actions(),
		Applied:   s.AppliedRules(),
	}
	for _, a := range s.Answers() {
		t.Exchanges = append(t.Exchanges, Exchange{
			Fact:     a.Fact,
			Question: base.Question(a.Fact),
			Value:    a.Value,
		})
	}
	return t
}

// Text writes the transcript as plain text.
func Text(w io.Writer, t Transcript) error {
	var b strings.Builder
	if t.ID != "" {
		fmt.Fprintf(&b, "Consultation %s (%s)\n", t.ID, t.State)
	}

	b.WriteString("\nAnswers:\n")
	if len(t.Exchanges) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, e := range t.Exchanges {
		fmt.Fprintf(&b, "  %s: %s\n", e.Question, answerLabel(e.Value))
	}

	b.WriteString("\nSuggested actions:\n")
	if len(t.Actions) == 0 {
		b.WriteString("  (none)\n")
	}
	for i, a := range t.Actions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, a)
	}

	b.WriteString("\nApplied rules:\n")
	if len(t.Applied) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, r := range t.Applied {
		fmt.Fprintf(&b, "  [%s] %s\n", r.ID, RuleText(r, t.ActionKey))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func answerLabel(v kb.Value) string {
	switch v {
	case kb.True:
		return "yes"
	case kb.False:
		return "no"
	default:
		return "unknown"
	}
}
