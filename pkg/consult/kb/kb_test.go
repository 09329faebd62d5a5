package kb

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cognicore/consult/pkg/consult/internalerr"
)

const sampleJSON = `{
    "rules": {
        "10": {"if": {"cough": 1}, "then": {"действие": "see a doctor"}},
        "2": {"if": {"fever": 1, "aches": 0}, "then": {"flu": 1}},
        "1": {"if": {}, "then": {"checked": 1}}
    },
    "facts": {
        "fever": "Do you have a fever?",
        "aches": "Do your muscles ache?",
        "cough": null
    }
}`

func TestParseSortsRulesNumerically(t *testing.T) {
	k, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var ids []string
	for _, r := range k.Rules() {
		ids = append(ids, r.ID)
	}
	if got := strings.Join(ids, ","); got != "1,2,10" {
		t.Errorf("evaluation order = %s, want 1,2,10", got)
	}
}

func TestParseKeepsPremiseOrder(t *testing.T) {
	k, err := Parse([]byte(`{"rules": {"1": {"if": {"zeta": 1, "alpha": 0, "mid": 1}, "then": {"x": 1}}}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	premise := k.Rules()[0].Premise
	want := []string{"zeta", "alpha", "mid"}
	if len(premise) != len(want) {
		t.Fatalf("premise has %d literals, want %d", len(premise), len(want))
	}
	for i, l := range premise {
		if l.Fact != want[i] {
			t.Errorf("premise[%d] = %s, want %s", i, l.Fact, want[i])
		}
	}
}

func TestParseSeparatesAction(t *testing.T) {
	k, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	last := k.Rules()[2]
	if !last.Conclusion.HasAction() || last.Conclusion.Action != "see a doctor" {
		t.Errorf("action = %q, want %q", last.Conclusion.Action, "see a doctor")
	}
	if len(last.Conclusion.Assignments) != 0 {
		t.Errorf("action leaked into assignments: %+v", last.Conclusion.Assignments)
	}
}

func TestParseCustomActionKey(t *testing.T) {
	doc := `{"rules": {"1": {"if": {}, "then": {"do": "wave", "happy": 1}}}}`
	k, err := Parse([]byte(doc), WithActionKey("do"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r := k.Rules()[0]
	if r.Conclusion.Action != "wave" {
		t.Errorf("action = %q, want wave", r.Conclusion.Action)
	}
	if k.ActionKey() != "do" {
		t.Errorf("ActionKey = %q, want do", k.ActionKey())
	}

	// Under the default key "do" is an ordinary fact and a string is not a valid value.
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected validation error with default action key")
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
rules:
  3:
    if: {a: 1}
    then: {b: 1}
  1:
    if: {b: 1}
    then: {действие: done}
facts:
  a: Is A true?
`
	k, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rules := k.Rules()
	if len(rules) != 2 || rules[0].ID != "1" || rules[1].ID != "3" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	if k.Question("a") != "Is A true?" {
		t.Errorf("Question(a) = %q", k.Question("a"))
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"out of range", `{"rules": {"1": {"if": {"a": 2}, "then": {}}}}`, "rules.1.if.a"},
		{"boolean", `{"rules": {"1": {"if": {"a": true}, "then": {}}}}`, "rules.1.if.a"},
		{"string", `{"rules": {"1": {"if": {}, "then": {"a": "1"}}}}`, "rules.1.then.a"},
		{"non-numeric id", `{"rules": {"first": {"if": {}, "then": {}}}}`, "rules"},
		{"unknown section", `{"rules": {"1": {"when": {}}}}`, "rules.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := Parse([]byte(tt.doc))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !errors.Is(err, internalerr.ErrInvalidInput) {
				t.Error("validation error should match ErrInvalidInput")
			}
			if k.Valid() {
				t.Error("knowledge base should be flagged invalid")
			}
			found := false
			for _, issue := range verr.Issues {
				if strings.HasPrefix(issue.Path, tt.path) {
					found = true
				}
			}
			if !found {
				t.Errorf("no issue at %s in %v", tt.path, verr.Issues)
			}
		})
	}
}

func TestParseRejectsNonStringFactKey(t *testing.T) {
	doc := `
rules:
  1:
    if: {7: 1}
    then: {b: 1}
`
	_, err := Parse([]byte(doc))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Issues[0].Path != "rules.1.if.7" {
		t.Errorf("issue path = %s", verr.Issues[0].Path)
	}
}

func TestParseGarbageIsLoadError(t *testing.T) {
	k, err := Parse([]byte(`{"rules": {`))
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if k.Len() != 0 || !k.Valid() {
		t.Error("expected an empty, valid knowledge base")
	}
}

func TestParseEmptyDocument(t *testing.T) {
	k, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if k.Len() != 0 {
		t.Errorf("Len = %d, want 0", k.Len())
	}
}

func TestLoadMissingFileDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	k, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load should degrade, got %v", err)
	}
	if k.Len() != 0 {
		t.Errorf("expected empty rule set, got %d rules", k.Len())
	}

	_, err = ReadFile(path)
	var le *LoadError
	if !errors.As(err, &le) || le.Path != path {
		t.Errorf("ReadFile error = %v, want LoadError for %s", err, path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("LoadError should unwrap to os.ErrNotExist")
	}
}

func TestLoadReturnsValidationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.json")
	if err := os.WriteFile(path, []byte(`{"rules": {"1": {"if": {"a": 5}}}}`), 0644); err != nil {
		t.Fatal(err)
	}

	k, err := Load(path, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if k.Valid() {
		t.Error("expected invalid knowledge base")
	}
}

func TestEncodePreservesOrder(t *testing.T) {
	k, err := Parse([]byte(`{"rules": {"1": {"if": {"zeta": 1, "alpha": 0}, "then": {"x": 1, "действие": "go"}}}, "facts": {"zeta": "Зета?"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, k); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := buf.String()
	if strings.Index(out, `"zeta"`) > strings.Index(out, `"alpha"`) {
		t.Errorf("premise order lost:\n%s", out)
	}
	if !strings.Contains(out, "Зета?") {
		t.Errorf("question text should be written unescaped:\n%s", out)
	}

	again, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse(encoded): %v", err)
	}
	if again.Rules()[0].Key() != k.Rules()[0].Key() {
		t.Error("rule changed across encode")
	}
}

func TestRuleKey(t *testing.T) {
	a := Rule{
		ID:         "1",
		Premise:    Premise{{Fact: "a", Value: True}, {Fact: "b", Value: False}},
		Conclusion: Conclusion{Action: "X"},
	}
	b := Rule{
		ID:         "7",
		Premise:    Premise{{Fact: "b", Value: False}, {Fact: "a", Value: True}},
		Conclusion: Conclusion{Action: "X"},
	}
	if a.Key() != b.Key() {
		t.Errorf("equal pairs should share a key: %s vs %s", a.Key(), b.Key())
	}

	b.Conclusion.Action = "Y"
	if a.Key() == b.Key() {
		t.Error("different actions should change the key")
	}
}

func TestNewReportsDuplicateIDs(t *testing.T) {
	rules := []Rule{{ID: "1"}, {ID: "1"}}
	k, err := New(rules, nil)
	if err == nil || k.Valid() {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestFactsIncludesRuleFacts(t *testing.T) {
	k, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := strings.Join(k.Facts(), ",")
	if got != "aches,checked,cough,fever,flu" {
		t.Errorf("Facts = %s", got)
	}
	if k.Question("cough") != "cough" {
		t.Errorf("missing question should fall back to fact name, got %q", k.Question("cough"))
	}
}

func TestParseValue(t *testing.T) {
	tests := map[string]Value{
		"yes": True, "1": True, "Да": True,
		"no": False, "0": False, "нет": False,
		"?": Unknown, "unknown": Unknown, "не знаю": Unknown,
	}
	for in, want := range tests {
		got, err := ParseValue(in)
		if err != nil {
			t.Errorf("ParseValue(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseValue(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseValue("maybe"); err == nil {
		t.Error("expected error for unrecognized answer")
	}
}
