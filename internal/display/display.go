// Package display renders a completed NewsItem into the text of one
// outbound message.
package display

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"telegram_news/internal/domain"
)

const (
	// MaxTextLength is the Bot API ceiling for a message body.
	MaxTextLength = 4096
	// MaxCaptionLength is the Bot API ceiling for a media caption.
	MaxCaptionLength = 1024

	ParseModeHTML = "HTML"

	tooLongPrefix = "Too long message!\n"
)

// Message is a rendered item ready for the publisher.
type Message struct {
	Text                  string
	ParseMode             string
	DisableWebPagePreview bool
}

// Policy renders items. Implementations must keep Text within Ceiling(item).
type Policy interface {
	Render(item domain.NewsItem) Message
}

// Options bound how much of the body a policy shows.
type Options struct {
	MaxLength     int
	MaxParagraphs int
	Suffix        string
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = 1000
	}
	if o.MaxParagraphs <= 0 {
		o.MaxParagraphs = 15
	}
	if o.Suffix == "" {
		o.Suffix = "..."
	}
	return o
}

// New returns the named policy: "best_effort" (the default) or "default".
func New(name string, opts Options) (Policy, error) {
	opts = opts.withDefaults()
	switch name {
	case "", "best_effort":
		return &BestEffort{opts: opts}, nil
	case "default":
		return &AllOrNothing{opts: opts}, nil
	}
	return nil, fmt.Errorf("unknown display policy %q", name)
}

// Ceiling returns the hard length limit for the message carrying item: a
// caption when the item has media, a plain text message otherwise.
func Ceiling(item domain.NewsItem) int {
	if len(item.Images)+len(item.Videos) > 0 {
		return MaxCaptionLength
	}
	return MaxTextLength
}

// BestEffort shows as many leading paragraphs as fit the budget and ends
// with a suffix when it had to cut. The link preview is enabled exactly when
// the body was cut, so the reader still gets a glimpse of the full article.
type BestEffort struct {
	opts Options
}

func (p *BestEffort) Render(item domain.NewsItem) Message {
	ceiling := Ceiling(item)
	budget := min(p.opts.MaxLength, ceiling)
	head, tail := header(item), footer(item)
	fixed := runes(head) + runes(tail)

	body, truncated := item.Paragraphs, false
	blocks := splitParagraphs(item.Paragraphs)
	if fixed+runes(item.Paragraphs) > budget || len(blocks) > p.opts.MaxParagraphs {
		body, truncated = p.cut(blocks, budget-fixed)
	}
	return finish(item, head+terminate(body)+tail, ceiling, !truncated)
}

func (p *BestEffort) cut(blocks []string, avail int) (string, bool) {
	avail -= runes(p.opts.Suffix) + 2
	var sb strings.Builder
	used := 0
	for i, b := range blocks {
		if i >= p.opts.MaxParagraphs || used+runes(b)+2 > avail {
			sb.WriteString(p.opts.Suffix)
			sb.WriteString("\n\n")
			return sb.String(), true
		}
		used += runes(b) + 2
		sb.WriteString(b)
		sb.WriteString("\n\n")
	}
	return sb.String(), false
}

// AllOrNothing shows the whole body or, when it is over budget, a short hint
// with the link preview enabled instead.
type AllOrNothing struct {
	opts Options
}

func (p *AllOrNothing) Render(item domain.NewsItem) Message {
	ceiling := Ceiling(item)
	body, preview := item.Paragraphs, false
	if runes(item.Paragraphs) > p.opts.MaxLength ||
		strings.Count(item.Paragraphs, "\n") > p.opts.MaxParagraphs*2 {
		body, preview = "<i>Too long to display.</i>\n\n", true
	}
	return finish(item, header(item)+terminate(body)+footer(item), ceiling, !preview)
}

func header(item domain.NewsItem) string {
	if item.Title == "" {
		return ""
	}
	return "<b>" + item.Title + "</b>\n\n"
}

func footer(item domain.NewsItem) string {
	var sb strings.Builder
	if item.PublishTime != "" {
		sb.WriteString(item.PublishTime)
		sb.WriteString("\n")
	}
	if item.Source != "" {
		sb.WriteString("[" + item.Source + "] ")
	}
	if item.Link != "" {
		sb.WriteString(`<a href="` + item.Link + `">[Full text]</a>`)
	}
	return sb.String()
}

// terminate makes a non-empty body end in a blank line.
func terminate(body string) string {
	if body == "" {
		return ""
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if !strings.HasSuffix(body, "\n\n") {
		body += "\n"
	}
	return body
}

func finish(item domain.NewsItem, text string, ceiling int, disablePreview bool) Message {
	text = strings.ReplaceAll(text, "<br>", "")
	if runes(text) > ceiling {
		text = tooLongPrefix + item.ID
	}
	return Message{
		Text:                  text,
		ParseMode:             ParseModeHTML,
		DisableWebPagePreview: disablePreview,
	}
}

func splitParagraphs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\n\n") {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func runes(s string) int { return utf8.RuneCountInString(s) }
