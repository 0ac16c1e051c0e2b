// Package sanitize reduces arbitrary markup to the inline subset the Bot API
// accepts in HTML mode: hyperlinks and media placeholders survive, every
// other tag is dropped and the remaining text is entity-escaped.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MediaPlaceholder stands in for an image or video inside text.
const MediaPlaceholder = "[Media]"

var (
	escaper        = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper    = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "<", "&lt;", ">", "&gt;")
	singleMediaRef = regexp.MustCompile(`^<a href="[^"]*">\[Media\]</a>$`)
)

// Inline sanitizes fragment. Relative hrefs and media sources are resolved
// against baseURL. When keepMediaLink is false, media become a bare
// placeholder instead of a link to the media URL.
func Inline(fragment, baseURL string, keepMediaLink bool) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return Escape(fragment)
	}
	w := &writer{base: baseURL, keepMediaLink: keepMediaLink}
	for _, n := range nodes {
		w.node(n)
	}
	return w.sb.String()
}

// Escape entity-escapes the characters Telegram treats as markup.
func Escape(s string) string { return escaper.Replace(s) }

// IsSingleMedia reports whether a sanitized paragraph is nothing but one
// media placeholder, linked or bare.
func IsSingleMedia(text string) bool {
	text = strings.TrimSpace(text)
	return text == MediaPlaceholder || singleMediaRef.MatchString(text)
}

// ResolveURL resolves ref against base. Unparseable input is returned as is;
// an empty ref stays empty.
func ResolveURL(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return b.ResolveReference(r).String()
}

type writer struct {
	sb            strings.Builder
	base          string
	keepMediaLink bool
}

func (w *writer) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.sb.WriteString(Escape(n.Data))
		return
	case html.ElementNode:
	case html.DocumentNode:
		w.children(n)
		return
	default:
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
	case atom.Br:
		w.sb.WriteString("\n")
	case atom.A:
		w.anchor(n)
	case atom.Img:
		w.media(attr(n, "src"))
	case atom.Video:
		w.media(VideoSource(n))
	default:
		w.children(n)
	}
}

func (w *writer) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
}

func (w *writer) anchor(n *html.Node) {
	text := Text(n)
	if strings.TrimSpace(text) == "" {
		// Image links keep their media.
		w.children(n)
		return
	}
	href := attr(n, "href")
	if href == "" {
		w.sb.WriteString(Escape(text))
		return
	}
	w.sb.WriteString(`<a href="`)
	w.sb.WriteString(attrEscaper.Replace(ResolveURL(href, w.base)))
	w.sb.WriteString(`">`)
	w.sb.WriteString(Escape(text))
	w.sb.WriteString(`</a>`)
}

func (w *writer) media(src string) {
	if src == "" {
		return
	}
	if !w.keepMediaLink {
		w.sb.WriteString(MediaPlaceholder)
		return
	}
	w.sb.WriteString(`<a href="`)
	w.sb.WriteString(attrEscaper.Replace(ResolveURL(src, w.base)))
	w.sb.WriteString(`">` + MediaPlaceholder + `</a>`)
}

// Text concatenates the text content below n.
func Text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// VideoSource returns the src of a <video>, falling back to its first
// <source> child.
func VideoSource(n *html.Node) string {
	if src := attr(n, "src"); src != "" {
		return src
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Source {
			return attr(c, "src")
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
