// Package kb holds the knowledge base a consultation reasons over: an
// ordered list of IF/THEN rules and a catalog of questions keyed by fact.
//
// A KnowledgeBase is immutable once built and may be shared by any number
// of sessions.
package kb

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// DefaultActionKey is the conclusion key whose value is collected as an action.
const DefaultActionKey = "действие"

// Value is the value of a fact.
type Value int8

const (
	// Unknown is an explicit "don't know" answer. It never appears in rules.
	Unknown Value = -1
	False   Value = 0
	True    Value = 1
)

// IsBool reports whether v is True or False.
func (v Value) IsBool() bool {
	return v == True || v == False
}

func (v Value) String() string {
	switch v {
	case True:
		return "1"
	case False:
		return "0"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("Value(%d)", int8(v))
	}
}

// ParseValue parses an answer typed by a person or given in a script.
func ParseValue(s string) (Value, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true", "да", "д":
		return True, nil
	case "0", "n", "no", "false", "нет", "н":
		return False, nil
	case "?", "u", "unknown", "не знаю", "-":
		return Unknown, nil
	}
	return 0, fmt.Errorf("unrecognized answer %q", s)
}

// Literal binds a fact to a value.
type Literal struct {
	Fact  string `json:"fact"`
	Value Value  `json:"value"`
}

// Premise lists the facts a rule requires, in document order.
type Premise []Literal

// Get returns the value the premise requires for fact.
func (p Premise) Get(fact string) (Value, bool) {
	for _, l := range p {
		if l.Fact == fact {
			return l.Value, true
		}
	}
	return 0, false
}

// Conclusion is what a rule asserts when it fires: plain fact assignments
// and an optional action.
type Conclusion struct {
	Assignments []Literal `json:"assignments,omitempty"`
	Action      string    `json:"action,omitempty"`
}

// HasAction reports whether the conclusion carries an action.
func (c Conclusion) HasAction() bool {
	return c.Action != ""
}

// Rule is a premise/conclusion pair identified by a numeric string.
type Rule struct {
	ID         string     `json:"id"`
	Premise    Premise    `json:"if"`
	Conclusion Conclusion `json:"then"`
}

// Key identifies the rule's premise/conclusion pair independently of its
// ID and of literal order. Two rules with equal keys describe the same
// inference event.
func (r Rule) Key() string {
	var b strings.Builder
	writeLiterals(&b, r.Premise)
	b.WriteString("=>")
	writeLiterals(&b, r.Conclusion.Assignments)
	if r.Conclusion.HasAction() {
		b.WriteString("!")
		b.WriteString(strconv.Quote(r.Conclusion.Action))
	}
	return b.String()
}

func writeLiterals(b *strings.Builder, lits []Literal) {
	sorted := slices.Clone(lits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Fact < sorted[j].Fact })
	b.WriteByte('{')
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(l.Fact))
		b.WriteByte('=')
		b.WriteString(l.Value.String())
	}
	b.WriteByte('}')
}

// Clone returns a deep copy of r.
func (r Rule) Clone() Rule {
	return Rule{
		ID:      r.ID,
		Premise: slices.Clone(r.Premise),
		Conclusion: Conclusion{
			Assignments: slices.Clone(r.Conclusion.Assignments),
			Action:      r.Conclusion.Action,
		},
	}
}

// ParseRuleID returns the numeric interpretation of a rule identifier.
func ParseRuleID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rule id %q is not numeric", id)
	}
	return n, nil
}

// SortRules orders rules by ascending numeric ID. Rules with non-numeric
// IDs keep their relative order at the end.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, errA := ParseRuleID(rules[i].ID)
		b, errB := ParseRuleID(rules[j].ID)
		switch {
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		return a < b
	})
}

// KnowledgeBase is an immutable, validated set of rules in evaluation order
// plus the question catalog.
type KnowledgeBase struct {
	rules     []Rule
	questions map[string]string
	actionKey string
	issues    []Issue
}

// Option configures knowledge base construction.
type Option func(*options)

type options struct {
	actionKey string
}

// WithActionKey sets the conclusion key collected as an action.
func WithActionKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.actionKey = key
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{actionKey: DefaultActionKey}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Empty returns a knowledge base with no rules and no questions.
func Empty(opts ...Option) *KnowledgeBase {
	o := buildOptions(opts)
	return &KnowledgeBase{questions: map[string]string{}, actionKey: o.actionKey}
}

// New validates rules and builds a knowledge base with them sorted into
// evaluation order. When validation fails the returned knowledge base is
// still usable for inspection but reports Valid() == false, and the error
// is a *ValidationError.
func New(rules []Rule, questions map[string]string, opts ...Option) (*KnowledgeBase, error) {
	o := buildOptions(opts)
	k := &KnowledgeBase{
		rules:     make([]Rule, 0, len(rules)),
		questions: make(map[string]string, len(questions)),
		actionKey: o.actionKey,
	}
	for fact, q := range questions {
		k.questions[fact] = q
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		k.issues = append(k.issues, CheckRule(r, o.actionKey)...)
		if seen[r.ID] {
			k.issues = append(k.issues, Issue{Path: rulePath(r.ID), Msg: "duplicate rule id"})
		}
		seen[r.ID] = true
		k.rules = append(k.rules, r.Clone())
	}
	SortRules(k.rules)

	if len(k.issues) > 0 {
		return k, &ValidationError{Issues: slices.Clone(k.issues)}
	}
	return k, nil
}

// CheckRule reports every problem with a single rule.
func CheckRule(r Rule, actionKey string) []Issue {
	var issues []Issue
	base := rulePath(r.ID)
	if _, err := ParseRuleID(r.ID); err != nil {
		issues = append(issues, Issue{Path: base, Msg: err.Error()})
	}
	check := func(section string, lits []Literal) {
		seen := make(map[string]bool, len(lits))
		for _, l := range lits {
			path := base + "." + section + "." + l.Fact
			switch {
			case l.Fact == "":
				issues = append(issues, Issue{Path: base + "." + section, Msg: "empty fact name"})
			case l.Fact == actionKey:
				issues = append(issues, Issue{Path: path, Msg: "the action key cannot be used as a fact"})
			case seen[l.Fact]:
				issues = append(issues, Issue{Path: path, Msg: "fact listed twice"})
			}
			if !l.Value.IsBool() {
				issues = append(issues, Issue{Path: path, Msg: fmt.Sprintf("value %s is not 0 or 1", l.Value)})
			}
			seen[l.Fact] = true
		}
	}
	check("if", r.Premise)
	check("then", r.Conclusion.Assignments)
	return issues
}

func rulePath(id string) string {
	return "rules." + id
}

// Valid reports whether the knowledge base passed validation.
func (k *KnowledgeBase) Valid() bool {
	return len(k.issues) == 0
}

// Issues returns the validation problems found when the knowledge base was built.
func (k *KnowledgeBase) Issues() []Issue {
	return slices.Clone(k.issues)
}

// ActionKey returns the conclusion key collected as an action.
func (k *KnowledgeBase) ActionKey() string {
	return k.actionKey
}

// Len returns the number of rules.
func (k *KnowledgeBase) Len() int {
	return len(k.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (k *KnowledgeBase) Rules() []Rule {
	out := make([]Rule, len(k.rules))
	for i, r := range k.rules {
		out[i] = r.Clone()
	}
	return out
}

// Question returns the display text for fact, falling back to the fact
// name when the catalog has no text for it.
func (k *KnowledgeBase) Question(fact string) string {
	if q := strings.TrimSpace(k.questions[fact]); q != "" {
		return q
	}
	return fact
}

// Questions returns a copy of the question catalog.
func (k *KnowledgeBase) Questions() map[string]string {
	out := make(map[string]string, len(k.questions))
	for fact, q := range k.questions {
		out[fact] = q
	}
	return out
}

// Facts returns every fact named by the catalog or by a rule, sorted.
func (k *KnowledgeBase) Facts() []string {
	set := make(map[string]struct{}, len(k.questions))
	for fact := range k.questions {
		set[fact] = struct{}{}
	}
	for _, r := range k.rules {
		for _, l := range r.Premise {
			set[l.Fact] = struct{}{}
		}
		for _, l := range r.Conclusion.Assignments {
			set[l.Fact] = struct{}{}
		}
	}
	delete(set, k.actionKey)

	out := make([]string, 0, len(set))
	for fact := range set {
		out = append(out, fact)
	}
	sort.Strings(out)
	return out
}
