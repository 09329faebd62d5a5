package kb

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MarshalJSON renders the knowledge base as a document Parse accepts.
// Rule, premise and conclusion order is preserved.
func (k *KnowledgeBase) MarshalJSON() ([]byte, error) {
	rules := orderedmap.New[string, any]()
	for _, r := range k.rules {
		premise := orderedmap.New[string, any]()
		for _, l := range r.Premise {
			premise.Set(l.Fact, l.Value)
		}
		conclusion := orderedmap.New[string, any]()
		for _, l := range r.Conclusion.Assignments {
			conclusion.Set(l.Fact, l.Value)
		}
		if r.Conclusion.HasAction() {
			conclusion.Set(k.actionKey, r.Conclusion.Action)
		}

		body := orderedmap.New[string, any]()
		body.Set("if", premise)
		body.Set("then", conclusion)
		rules.Set(r.ID, body)
	}

	facts := orderedmap.New[string, any]()
	names := make([]string, 0, len(k.questions))
	for fact := range k.questions {
		names = append(names, fact)
	}
	sort.Strings(names)
	for _, fact := range names {
		facts.Set(fact, k.questions[fact])
	}

	doc := orderedmap.New[string, any]()
	doc.Set("rules", rules)
	doc.Set("facts", facts)
	return json.Marshal(doc)
}

// Encode writes the knowledge base to w as indented JSON.
func Encode(w io.Writer, k *KnowledgeBase) error {
	data, err := k.MarshalJSON()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "    "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
