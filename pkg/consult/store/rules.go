package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
)

// ActionKey returns key, or kb.DefaultActionKey when key is empty.
func ActionKey(key string) string {
	if key == "" {
		return kb.DefaultActionKey
	}
	return key
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r kb.Rule, actionKey string) error {
	if issues := kb.CheckRule(r, actionKey); len(issues) > 0 {
		return &kb.ValidationError{Issues: issues}
	}
	return nil
}

// NextRuleID returns one more than the largest numeric rule ID.
func NextRuleID(rules []kb.Rule) string {
	var highest int64
	for _, r := range rules {
		if n, err := kb.ParseRuleID(r.ID); err == nil && n > highest {
			highest = n
		}
	}
	return strconv.FormatInt(highest+1, 10)
}

// BlankRule returns an empty rule with the given ID.
func BlankRule(id string) kb.Rule {
	return kb.Rule{ID: id}
}

// Neighbor returns the ID of the rule delta positions away from id in
// evaluation order. ok is false when id is already at that edge.
func Neighbor(rules []kb.Rule, id string, delta int) (string, bool, error) {
	sorted := make([]kb.Rule, len(rules))
	copy(sorted, rules)
	kb.SortRules(sorted)

	for i, r := range sorted {
		if r.ID != id {
			continue
		}
		j := i + delta
		if j < 0 || j >= len(sorted) {
			return "", false, nil
		}
		return sorted[j].ID, true, nil
	}
	return "", false, fmt.Errorf("rule %s: %w", id, internalerr.ErrNotFound)
}

// SwapBodies exchanges the premises and conclusions of two rules while
// each keeps its ID, which moves the bodies in evaluation order.
func SwapBodies(a, b kb.Rule) (kb.Rule, kb.Rule) {
	na := b.Clone()
	na.ID = a.ID
	nb := a.Clone()
	nb.ID = b.ID
	return na, nb
}

// CheckDeletableFact refuses to delete the action key or a fact that any
// rule still references.
func CheckDeletableFact(rules []kb.Rule, fact, actionKey string) error {
	if fact == actionKey {
		return fmt.Errorf("fact %q is the action key: %w", fact, internalerr.ErrInvalidInput)
	}
	for _, r := range rules {
		if _, ok := r.Premise.Get(fact); ok {
			return fmt.Errorf("fact %q is used by rule %s: %w", fact, r.ID, internalerr.ErrInUse)
		}
		for _, l := range r.Conclusion.Assignments {
			if l.Fact == fact {
				return fmt.Errorf("fact %q is used by rule %s: %w", fact, r.ID, internalerr.ErrInUse)
			}
		}
	}
	return nil
}

// MissingFacts returns the facts rules reference that have no catalog
// entry, sorted.
func MissingFacts(rules []kb.Rule, questions map[string]string) []string {
	missing := make(map[string]struct{})
	add := func(fact string) {
		if _, ok := questions[fact]; !ok {
			missing[fact] = struct{}{}
		}
	}
	for _, r := range rules {
		for _, l := range r.Premise {
			add(l.Fact)
		}
		for _, l := range r.Conclusion.Assignments {
			add(l.Fact)
		}
	}
	out := make([]string, 0, len(missing))
	for fact := range missing {
		out = append(out, fact)
	}
	sort.Strings(out)
	return out
}

// Import copies every rule and question of k into st.
func Import(ctx context.Context, st Store, k *kb.KnowledgeBase) error {
	for _, r := range k.Rules() {
		if err := st.PutRule(ctx, r); err != nil {
			return fmt.Errorf("import rule %s: %w", r.ID, err)
		}
	}
	for fact, q := range k.Questions() {
		if err := st.PutQuestion(ctx, fact, q); err != nil {
			return fmt.Errorf("import question %s: %w", fact, err)
		}
	}
	return nil
}
