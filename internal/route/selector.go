package route

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

// Selector locates a field in an HTML document: a CSS selector and, when
// Attr is set, the attribute to read instead of the text content.
type Selector struct {
	CSS  string `yaml:"css"`
	Attr string `yaml:"attr"`
}

// CSS builds a text selector.
func CSS(css string) Selector { return Selector{CSS: css} }

// UnmarshalYAML accepts either a bare selector string or a {css, attr} map.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.CSS = node.Value
		s.Attr = ""
		return nil
	}
	type plain Selector
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Selector(p)
	return nil
}

// IsSet reports whether a selector was configured.
func (s Selector) IsSet() bool { return strings.TrimSpace(s.CSS) != "" }

// Find returns every node matched by the selector in root, root itself
// included, in document order. An unset selector matches nothing.
func (s Selector) Find(root *goquery.Selection) *goquery.Selection {
	if !s.IsSet() || root == nil {
		return &goquery.Selection{}
	}
	return root.Filter(s.CSS).AddSelection(root.Find(s.CSS))
}

// Text resolves the first match: its attribute when Attr is set, its
// trimmed text otherwise. No match yields "".
func (s Selector) Text(root *goquery.Selection) string {
	first := s.Find(root).First()
	if first.Length() == 0 {
		return ""
	}
	if s.Attr != "" {
		v, _ := first.Attr(s.Attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(first.Text())
}

// OuterHTML renders the first match including its own tag.
func (s Selector) OuterHTML(root *goquery.Selection) string {
	first := s.Find(root).First()
	if first.Length() == 0 {
		return ""
	}
	h, err := goquery.OuterHtml(first)
	if err != nil {
		return ""
	}
	return h
}
