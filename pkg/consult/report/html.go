package report

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func withText(n *html.Node, s string) *html.Node {
	n.AppendChild(text(s))
	return n
}

// HTML writes the transcript as a standalone HTML document. Text is
// escaped by the renderer.
func HTML(w io.Writer, t Transcript) error {
	title := "Consultation"
	if t.ID != "" {
		title = "Consultation " + t.ID
	}

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html, "lang", "en")
	doc.AppendChild(root)

	head := element(atom.Head)
	head.AppendChild(element(atom.Meta, "charset", "utf-8"))
	head.AppendChild(withText(element(atom.Title), title))
	root.AppendChild(head)

	body := element(atom.Body)
	root.AppendChild(body)
	body.AppendChild(withText(element(atom.H1), title))
	body.AppendChild(withText(element(atom.P, "class", "state"), t.State.String()))

	body.AppendChild(withText(element(atom.H2), "Suggested actions"))
	actions := element(atom.Ol, "class", "actions")
	for _, a := range t.Actions {
		actions.AppendChild(withText(element(atom.Li), a))
	}
	body.AppendChild(actions)

	body.AppendChild(withText(element(atom.H2), "Answers"))
	answers := element(atom.Table, "class", "answers")
	for _, e := range t.Exchanges {
		tr := element(atom.Tr, "data-fact", e.Fact)
		tr.AppendChild(withText(element(atom.Td), e.Question))
		tr.AppendChild(withText(element(atom.Td), answerLabel(e.Value)))
		answers.AppendChild(tr)
	}
	body.AppendChild(answers)

	body.AppendChild(withText(element(atom.H2), "Applied rules"))
	applied := element(atom.Ul, "class", "rules")
	for _, r := range t.Applied {
		li := element(atom.Li, "id", fmt.Sprintf("rule-%s", r.ID))
		li.AppendChild(withText(element(atom.Code), RuleText(r, t.ActionKey)))
		applied.AppendChild(li)
	}
	body.AppendChild(applied)

	return html.Render(w, doc)
}
