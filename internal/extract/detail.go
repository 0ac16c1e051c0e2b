package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"telegram_news/internal/domain"
	"telegram_news/internal/sanitize"
)

// Detail completes partial items from their detail page.
type Detail struct {
	rules Rules
}

// NewDetail returns a detail extractor for rules.
func NewDetail(rules Rules) *Detail {
	return &Detail{rules: rules.WithDefaults()}
}

// NeedsFetch reports whether the detail page of item should be requested:
// some field is still empty and a detail selector could fill it.
func (d *Detail) NeedsFetch(item domain.NewsItem) bool {
	if d.rules.SkipDetail || item.Link == "" {
		return false
	}
	sel := d.rules.DetailSelectors
	owned := d.listOwned()
	missing := func(empty, byList, set bool) bool { return empty && !byList && set }
	return d.prefersDetailTitle() ||
		missing(item.Title == "", owned.Title, sel.Title.IsSet()) ||
		missing(item.Paragraphs == "", owned.Paragraphs, sel.Paragraphs.IsSet()) ||
		missing(item.PublishTime == "", owned.Time, sel.Time.IsSet()) ||
		missing(item.Source == "", owned.Source, sel.Source.IsSet()) ||
		missing(len(item.Images) == 0, owned.Images, sel.Images.IsSet()) ||
		missing(len(item.Videos) == 0, owned.Videos, sel.Videos.IsSet())
}

// prefersDetailTitle reports whether an HTML list title came from link text
// only, in which case a configured detail title replaces it.
func (d *Detail) prefersDetailTitle() bool {
	r := d.rules
	return r.Shape == ShapeHTML && !r.ListSelectors.Title.IsSet() && r.DetailSelectors.Title.IsSet()
}

// Complete fills the fields of item that the list did not resolve. Values
// already present on item, or fields the list rules are responsible for,
// are kept as they are. An empty or unparseable body leaves them empty.
func (d *Detail) Complete(body string, item domain.NewsItem) domain.NewsItem {
	r := d.rules
	root := &goquery.Selection{}
	if strings.TrimSpace(body) != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
			root = doc.Selection
		}
	}
	keep := r.keepMediaLink()
	base := item.Link
	sel := r.DetailSelectors
	owned := d.listOwned()

	if (item.Title == "" && !owned.Title) || d.prefersDetailTitle() {
		if title := sanitize.Escape(cleanTitle(sel.Title.Text(root))); title != "" {
			item.Title = title
		}
	}
	if item.Paragraphs == "" && !owned.Paragraphs {
		item.Paragraphs = paragraphsOf(sel.Paragraphs, root, base, keep)
	}
	if item.PublishTime == "" && !owned.Time {
		item.PublishTime = sanitize.Escape(CleanTime(sel.Time.Text(root), r.TimeJunk, r.MaxTimeLength))
	}
	if item.Source == "" && !owned.Source {
		item.Source = sourceOf(sel.Source, root, base, keep)
	}
	if len(item.Images) == 0 && !owned.Images {
		item.Images = imagesOf(sel.Images, root, base)
	}
	if len(item.Videos) == 0 && !owned.Videos {
		item.Videos = videosOf(sel.Videos, root, base)
	}
	return item
}

func (d *Detail) listOwned() Fields[bool] {
	r := d.rules
	switch r.Shape {
	case ShapeJSON, ShapeXML:
		lr := r.ListRoutes
		return Fields[bool]{
			Title:      lr.Title.IsSet(),
			Paragraphs: lr.Paragraphs.IsSet(),
			Time:       lr.Time.IsSet(),
			Source:     lr.Source.IsSet(),
			Images:     lr.Images.IsSet(),
			Videos:     lr.Videos.IsSet(),
		}
	case ShapeHTML:
		ls := r.ListSelectors
		return Fields[bool]{
			Paragraphs: ls.Paragraphs.IsSet(),
			Time:       ls.Time.IsSet(),
			Source:     ls.Source.IsSet(),
			Images:     ls.Images.IsSet(),
			Videos:     ls.Videos.IsSet(),
		}
	}
	return Fields[bool]{}
}
