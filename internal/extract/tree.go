package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clbanning/mxj/v2"

	"telegram_news/internal/domain"
	"telegram_news/internal/route"
	"telegram_news/internal/sanitize"
)

// TreeList extracts items from a structured list body. JSON and XML share
// the same route rules once decoded into a route.Value.
type TreeList struct {
	rules  Rules
	decode func(body string) (route.Value, error)
}

func (l *TreeList) ExtractList(body, listURL string) ([]domain.NewsItem, error) {
	doc, err := l.decode(body)
	if err != nil {
		return nil, err
	}

	r := l.rules
	entries := doc.Items()
	if r.ListRoute.IsSet() {
		list, ok := route.Resolve(doc, r.ListRoute)
		if !ok {
			return nil, nil
		}
		entries = list.Items()
	}

	keep := r.keepMediaLink()
	items := make([]domain.NewsItem, 0, len(entries))
	for _, entry := range entries {
		link := sanitize.ResolveURL(route.Lookup(entry, r.LinkRoute), listURL)
		if link == "" {
			continue
		}
		item := domain.NewsItem{Link: link}
		if r.IDRoute.IsSet() {
			item.ID = route.Lookup(entry, r.IDRoute)
		}
		if item.ID == "" {
			item.ID = idFor(r.IDPolicy, link)
		}
		if title := route.Lookup(entry, r.ListRoutes.Title); title != "" {
			item.Title = strings.TrimSpace(sanitize.Inline(cleanTitle(title), link, keep))
		}
		if p := route.Lookup(entry, r.ListRoutes.Paragraphs); p != "" {
			item.Paragraphs = JoinParagraphs([]string{sanitize.Inline(p, link, keep)})
		}
		item.PublishTime = sanitize.Escape(CleanTime(route.Lookup(entry, r.ListRoutes.Time), r.TimeJunk, r.MaxTimeLength))
		item.Source = strings.TrimSpace(sanitize.Inline(route.Lookup(entry, r.ListRoutes.Source), link, keep))
		item.Images = resolveAll(route.LookupAll(entry, r.ListRoutes.Images), listURL)
		item.Videos = resolveAll(route.LookupAll(entry, r.ListRoutes.Videos), listURL)
		items = append(items, item)
	}
	return items, nil
}

func decodeJSON(body string) (route.Value, error) {
	dec := json.NewDecoder(strings.NewReader(UnwrapJSONP(body)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return route.Value{}, fmt.Errorf("decode json list: %w", err)
	}
	return route.FromAny(raw), nil
}

func decodeXML(body string) (route.Value, error) {
	m, err := mxj.NewMapXml([]byte(body))
	if err != nil {
		return route.Value{}, fmt.Errorf("decode xml list: %w", err)
	}
	return route.FromAny(map[string]any(m)), nil
}

// UnwrapJSONP strips a callback wrapper such as `cb({...});` so the payload
// can be decoded as plain JSON. Plain JSON is returned unchanged.
func UnwrapJSONP(body string) string {
	b := strings.TrimSpace(strings.TrimPrefix(body, "\ufeff"))
	if b == "" || b[0] == '{' || b[0] == '[' {
		return b
	}
	open := strings.IndexByte(b, '(')
	end := strings.LastIndexByte(b, ')')
	if open < 0 || end <= open {
		return b
	}
	return strings.TrimSpace(b[open+1 : end])
}
