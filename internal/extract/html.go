package extract

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"telegram_news/internal/domain"
	"telegram_news/internal/route"
	"telegram_news/internal/sanitize"
)

// HTMLList extracts items from an HTML list page: one item per match of the
// item selector, in document order.
type HTMLList struct {
	rules  Rules
	logger *slog.Logger
}

func (l *HTMLList) ExtractList(body, listURL string) ([]domain.NewsItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse list page: %w", err)
	}

	r := l.rules
	keep := r.keepMediaLink()
	var items []domain.NewsItem
	entries := r.ItemSelector.Find(doc.Selection)
	entries.Each(func(_ int, entry *goquery.Selection) {
		link := sanitize.ResolveURL(r.LinkSelector.Text(entry), listURL)
		if link == "" {
			return
		}
		item := domain.NewsItem{
			ID:   idFor(r.IDPolicy, link),
			Link: link,
		}
		if r.ListSelectors.Title.IsSet() {
			item.Title = sanitize.Escape(cleanTitle(r.ListSelectors.Title.Text(entry)))
		} else {
			item.Title = sanitize.Escape(cleanTitle(r.LinkSelector.Find(entry).First().Text()))
		}
		item.Paragraphs = paragraphsOf(r.ListSelectors.Paragraphs, entry, listURL, keep)
		item.PublishTime = sanitize.Escape(CleanTime(r.ListSelectors.Time.Text(entry), r.TimeJunk, r.MaxTimeLength))
		item.Source = sourceOf(r.ListSelectors.Source, entry, listURL, keep)
		item.Images = imagesOf(r.ListSelectors.Images, entry, listURL)
		item.Videos = videosOf(r.ListSelectors.Videos, entry, listURL)
		items = append(items, item)
	})
	if entries.Length() > 0 && len(items) == 0 {
		l.logger.Warn("list entries matched but none carried a link",
			"url", listURL, "entries", entries.Length(), "link_selector", r.LinkSelector.CSS)
	}
	return items, nil
}

func paragraphsOf(sel route.Selector, root *goquery.Selection, base string, keep bool) string {
	var blocks []string
	sel.Find(root).Each(func(_ int, s *goquery.Selection) {
		raw, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		raw = strings.NewReplacer("\n", "", "\r", "").Replace(raw)
		blocks = append(blocks, sanitize.Inline(raw, base, keep))
	})
	return JoinParagraphs(blocks)
}

func sourceOf(sel route.Selector, root *goquery.Selection, base string, keep bool) string {
	if sel.Attr != "" {
		return sanitize.Escape(sel.Text(root))
	}
	return strings.TrimSpace(sanitize.Inline(sel.OuterHTML(root), base, keep))
}

func imagesOf(sel route.Selector, root *goquery.Selection, base string) []string {
	var refs []string
	sel.Find(root).Each(func(_ int, s *goquery.Selection) {
		if sel.Attr != "" {
			v, _ := s.Attr(sel.Attr)
			refs = append(refs, v)
			return
		}
		for _, n := range s.Nodes {
			refs = append(refs, imageSource(n))
		}
	})
	return resolveAll(refs, base)
}

func videosOf(sel route.Selector, root *goquery.Selection, base string) []string {
	var refs []string
	sel.Find(root).Each(func(_ int, s *goquery.Selection) {
		if sel.Attr != "" {
			v, _ := s.Attr(sel.Attr)
			refs = append(refs, v)
			return
		}
		for _, n := range s.Nodes {
			if n.DataAtom != atom.Video {
				n = firstDescendant(n, atom.Video)
			}
			if n != nil {
				refs = append(refs, sanitize.VideoSource(n))
			}
		}
	})
	return resolveAll(refs, base)
}

// imageSource reads the image URL from an <img>, or from the first <img>
// below a container node. Lazy-loading pages keep it in data-src.
func imageSource(n *html.Node) string {
	if n.DataAtom != atom.Img {
		n = firstDescendant(n, atom.Img)
	}
	if n == nil {
		return ""
	}
	for _, key := range []string{"src", "data-src", "data-original"} {
		for _, a := range n.Attr {
			if a.Key == key && strings.TrimSpace(a.Val) != "" {
				return a.Val
			}
		}
	}
	return ""
}

func firstDescendant(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := firstDescendant(c, a); found != nil {
			return found
		}
	}
	return nil
}
