// Package parser turns FIS athlete profile pages into competition results.
//
// The extraction logic runs against the Node capability interface rather than
// a concrete HTML library, so any tree that can answer "find descendants
// matching a predicate" can be parsed. NewDocument adapts goquery.
package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is the minimal queryable tree the parser needs.
type Node interface {
	Tag() string
	Attr(name string) (string, bool)
	HasClass(class string) bool
	Text() string
	Children() []Node
	// Find returns descendants matching m in document order.
	Find(m Matcher) []Node
}

// Matcher selects nodes.
type Matcher func(Node) bool

// ByID matches the element with the given id attribute.
func ByID(id string) Matcher {
	return func(n Node) bool {
		v, ok := n.Attr("id")
		return ok && v == id
	}
}

// ByClass matches elements carrying class.
func ByClass(class string) Matcher {
	return func(n Node) bool { return n.HasClass(class) }
}

// ByTag matches elements by lowercase tag name.
func ByTag(tag string) Matcher {
	return func(n Node) bool { return n.Tag() == tag }
}

// AllOf matches when every matcher does.
func AllOf(ms ...Matcher) Matcher {
	return func(n Node) bool {
		for _, m := range ms {
			if !m(n) {
				return false
			}
		}
		return true
	}
}

func first(n Node, m Matcher) (Node, bool) {
	found := n.Find(m)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

func childrenMatching(n Node, m Matcher) []Node {
	var out []Node
	for _, c := range n.Children() {
		if m(c) {
			out = append(out, c)
		}
	}
	return out
}

// NewDocument parses HTML with goquery and returns its root as a Node.
func NewDocument(r io.Reader) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html document: %w", err)
	}
	return selectionNode{sel: doc.Selection}, nil
}

// FromSelection wraps an existing goquery selection.
func FromSelection(sel *goquery.Selection) Node {
	return selectionNode{sel: sel}
}

type selectionNode struct {
	sel *goquery.Selection
}

func (s selectionNode) Tag() string {
	return strings.ToLower(goquery.NodeName(s.sel))
}

func (s selectionNode) Attr(name string) (string, bool) {
	return s.sel.Attr(name)
}

func (s selectionNode) HasClass(class string) bool {
	return s.sel.HasClass(class)
}

func (s selectionNode) Text() string {
	return strings.Join(strings.Fields(s.sel.Text()), " ")
}

func (s selectionNode) Children() []Node {
	return wrap(s.sel.Children())
}

func (s selectionNode) Find(m Matcher) []Node {
	var out []Node
	for _, n := range wrap(s.sel.Find("*")) {
		if m(n) {
			out = append(out, n)
		}
	}
	return out
}

func wrap(sel *goquery.Selection) []Node {
	nodes := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, item *goquery.Selection) {
		nodes = append(nodes, selectionNode{sel: item})
	})
	return nodes
}
