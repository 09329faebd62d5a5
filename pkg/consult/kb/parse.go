package kb

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Parse decodes a knowledge base document. JSON and YAML are both
// accepted; mapping order is kept so that premises are evaluated in the
// order they are written.
//
// The document has two top-level mappings:
//
//	rules: {"1": {"if": {"fever": 1}, "then": {"flu": 1, "действие": "rest"}}}
//	facts: {"fever": "Do you have a fever?"}
//
// An undecodable document yields an empty knowledge base and a *LoadError.
// A decodable document with bad rules yields an invalid knowledge base and
// a *ValidationError.
func Parse(data []byte, opts ...Option) (*KnowledgeBase, error) {
	o := buildOptions(opts)

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Empty(opts...), &LoadError{Err: err}
	}
	doc := resolve(&root)
	if doc == nil || doc.Kind == 0 || (doc.Kind == yaml.ScalarNode && doc.ShortTag() == "!!null") {
		return Empty(opts...), nil
	}
	if doc.Kind != yaml.MappingNode {
		return Empty(opts...), &LoadError{Err: fmt.Errorf("document must be a mapping, got %s", kindName(doc.Kind))}
	}

	if issues := checkFactKeys(doc); len(issues) > 0 {
		return invalid(o, issues), &ValidationError{Issues: issues}
	}
	issues, err := validateDocument(toGeneric(doc), o.actionKey)
	if err != nil {
		return Empty(opts...), &LoadError{Err: err}
	}
	if len(issues) > 0 {
		return invalid(o, issues), &ValidationError{Issues: issues}
	}

	rules, questions, issues := build(doc, o.actionKey)
	k, err := New(rules, questions, opts...)
	if len(issues) > 0 {
		k.issues = append(issues, k.issues...)
		return k, &ValidationError{Issues: k.Issues()}
	}
	return k, err
}

// ReadFile parses the knowledge base document at path.
func ReadFile(path string, opts ...Option) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Empty(opts...), &LoadError{Path: path, Err: err}
	}
	k, err := Parse(data, opts...)
	var le *LoadError
	if errors.As(err, &le) {
		le.Path = path
	}
	return k, err
}

// Load reads the knowledge base at path for a consultation. A missing or
// unparseable document is logged and replaced by an empty knowledge base.
// Validation problems are logged once and returned with the invalid
// knowledge base.
func Load(path string, logger *zap.Logger, opts ...Option) (*KnowledgeBase, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	k, err := ReadFile(path, opts...)

	var le *LoadError
	switch {
	case err == nil:
		logger.Info("knowledge base loaded",
			zap.String("path", path),
			zap.Int("rules", k.Len()),
			zap.Int("questions", len(k.questions)))
		return k, nil
	case errors.As(err, &le):
		logger.Error("knowledge base unavailable, using empty rule set",
			zap.String("path", path),
			zap.Error(le.Err))
		return k, nil
	default:
		logger.Error("knowledge base failed validation",
			zap.String("path", path),
			zap.Error(err))
		return k, err
	}
}

func invalid(o options, issues []Issue) *KnowledgeBase {
	return &KnowledgeBase{questions: map[string]string{}, actionKey: o.actionKey, issues: issues}
}

func build(doc *yaml.Node, actionKey string) ([]Rule, map[string]string, []Issue) {
	var (
		rules  []Rule
		issues []Issue
	)
	eachPair(mappingValue(doc, "rules"), func(key, body *yaml.Node) {
		r := Rule{ID: key.Value}
		eachPair(mappingValue(body, "if"), func(fact, val *yaml.Node) {
			v, ok := literalValue(val)
			if !ok {
				issues = append(issues, Issue{Path: rulePath(r.ID) + ".if." + fact.Value, Msg: "value must be 0 or 1"})
				return
			}
			r.Premise = append(r.Premise, Literal{Fact: fact.Value, Value: v})
		})
		eachPair(mappingValue(body, "then"), func(fact, val *yaml.Node) {
			if fact.Value == actionKey {
				var action any
				if err := val.Decode(&action); err != nil {
					issues = append(issues, Issue{Path: rulePath(r.ID) + ".then." + fact.Value, Msg: err.Error()})
					return
				}
				switch a := action.(type) {
				case nil:
				case string:
					r.Conclusion.Action = a
				default:
					issues = append(issues, Issue{Path: rulePath(r.ID) + ".then." + fact.Value, Msg: "action must be a string"})
				}
				return
			}
			v, ok := literalValue(val)
			if !ok {
				issues = append(issues, Issue{Path: rulePath(r.ID) + ".then." + fact.Value, Msg: "value must be 0 or 1"})
				return
			}
			r.Conclusion.Assignments = append(r.Conclusion.Assignments, Literal{Fact: fact.Value, Value: v})
		})
		rules = append(rules, r)
	})

	questions := make(map[string]string)
	eachPair(mappingValue(doc, "facts"), func(fact, val *yaml.Node) {
		var text string
		if val.ShortTag() != "!!null" {
			text = val.Value
		}
		questions[fact.Value] = text
	})
	return rules, questions, issues
}

// checkFactKeys reports fact names that are not strings. Rule ids may be
// written as bare integers in YAML; fact names may not.
func checkFactKeys(doc *yaml.Node) []Issue {
	var issues []Issue
	checkKeys := func(prefix string, m *yaml.Node) {
		eachPair(m, func(key, _ *yaml.Node) {
			if key.Kind != yaml.ScalarNode || key.ShortTag() != "!!str" {
				issues = append(issues, Issue{Path: prefix + "." + key.Value, Msg: "fact name must be a string"})
			}
		})
	}
	eachPair(mappingValue(doc, "rules"), func(key, body *yaml.Node) {
		checkKeys(rulePath(key.Value)+".if", mappingValue(body, "if"))
		checkKeys(rulePath(key.Value)+".then", mappingValue(body, "then"))
	})
	checkKeys("facts", mappingValue(doc, "facts"))
	return issues
}

func literalValue(n *yaml.Node) (Value, bool) {
	var v any
	if err := n.Decode(&v); err != nil {
		return 0, false
	}
	switch x := v.(type) {
	case int:
		if x == 0 || x == 1 {
			return Value(x), true
		}
	case float64:
		if x == 0 || x == 1 {
			return Value(int8(x)), true
		}
	}
	return 0, false
}

// toGeneric converts a node tree to plain maps, slices and scalars with
// every mapping key rendered as a string.
func toGeneric(n *yaml.Node) any {
	n = resolve(n)
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		eachPair(n, func(k, v *yaml.Node) {
			m[k.Value] = toGeneric(v)
		})
		return m
	case yaml.SequenceNode:
		s := make([]any, len(n.Content))
		for i, c := range n.Content {
			s[i] = toGeneric(c)
		}
		return s
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return n.Value
		}
		return v
	}
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil {
		switch n.Kind {
		case yaml.DocumentNode:
			if len(n.Content) == 0 {
				return nil
			}
			n = n.Content[0]
		case yaml.AliasNode:
			n = n.Alias
		default:
			return n
		}
	}
	return nil
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	n = resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return resolve(n.Content[i+1])
		}
	}
	return nil
}

func eachPair(n *yaml.Node, fn func(key, value *yaml.Node)) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		fn(n.Content[i], resolve(n.Content[i+1]))
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.MappingNode:
		return "mapping"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}
