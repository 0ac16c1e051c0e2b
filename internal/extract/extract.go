// Package extract turns fetched list and detail documents into NewsItem
// records.
package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"telegram_news/internal/domain"
	"telegram_news/internal/sanitize"
)

// ListExtractor turns one raw list response into ordered partial items.
type ListExtractor interface {
	ExtractList(body, listURL string) ([]domain.NewsItem, error)
}

// NewList returns the list extractor for the configured shape.
func NewList(rules Rules, logger *slog.Logger) (ListExtractor, error) {
	rules = rules.WithDefaults()
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	switch rules.Shape {
	case ShapeHTML:
		return &HTMLList{rules: rules, logger: logger}, nil
	case ShapeJSON:
		return &TreeList{rules: rules, decode: decodeJSON}, nil
	case ShapeXML:
		return &TreeList{rules: rules, decode: decodeXML}, nil
	case ShapeFeed:
		return &FeedList{rules: rules}, nil
	}
	return nil, fmt.Errorf("unknown shape %q", rules.Shape)
}

var digitRun = regexp.MustCompile(`\d+`)

// DigitsID returns the last run of digits in link, or link itself when it
// has none.
func DigitsID(link string) string {
	runs := digitRun.FindAllString(link, -1)
	if len(runs) == 0 {
		return link
	}
	return runs[len(runs)-1]
}

func idFor(policy IDPolicy, link string) string {
	if policy == IDLink {
		return link
	}
	return DigitsID(link)
}

// JoinParagraphs joins sanitized blocks with blank lines. A block that is a
// single media placeholder is followed by one space instead, so it shares a
// line with the next text block.
func JoinParagraphs(blocks []string) string {
	var sb strings.Builder
	pendingMedia := false
	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if sanitize.IsSingleMedia(b) {
			sb.WriteString(b)
			sb.WriteString(" ")
			pendingMedia = true
			continue
		}
		sb.WriteString(b)
		sb.WriteString("\n\n")
		pendingMedia = false
	}
	out := sb.String()
	if pendingMedia {
		out = strings.TrimRight(out, " ") + "\n\n"
	}
	return out
}

// CleanTime normalizes a scraped publish time. Strings longer than maxLen
// runes are dropped as evidence of a wrong node.
func CleanTime(s string, junk []string, maxLen int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	for _, j := range junk {
		if j != "" {
			s = strings.ReplaceAll(s, j, "")
		}
	}
	s = strings.TrimSpace(s)
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		return ""
	}
	return s
}

func cleanTitle(s string) string {
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

func resolveAll(refs []string, base string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if abs := sanitize.ResolveURL(r, base); abs != "" {
			out = append(out, abs)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
