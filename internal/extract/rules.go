package extract

import (
	"fmt"

	"telegram_news/internal/route"
)

// Shape selects the list extractor implementation for a feed.
type Shape string

const (
	ShapeHTML Shape = "html"
	ShapeJSON Shape = "json"
	ShapeXML  Shape = "xml"
	ShapeFeed Shape = "feed"
)

// IDPolicy names how an item id is derived when no id route is configured.
type IDPolicy string

const (
	// IDDigits takes the last run of digits in the absolute link.
	IDDigits IDPolicy = "digits"
	// IDLink uses the absolute link itself.
	IDLink IDPolicy = "link"
	// IDGUID uses the RSS/Atom guid, falling back to IDDigits.
	IDGUID IDPolicy = "guid"
)

// Fields groups one resolver per optional item field.
type Fields[T any] struct {
	Title      T `yaml:"title"`
	Paragraphs T `yaml:"paragraphs"`
	Time       T `yaml:"time"`
	Source     T `yaml:"source"`
	Images     T `yaml:"images"`
	Videos     T `yaml:"videos"`
}

// Rules is the per-feed extraction ruleset.
type Rules struct {
	Shape    Shape    `yaml:"shape"`
	IDPolicy IDPolicy `yaml:"id_policy"`

	// HTML list pages.
	ItemSelector  route.Selector         `yaml:"item_selector"`
	LinkSelector  route.Selector         `yaml:"link_selector"`
	ListSelectors Fields[route.Selector] `yaml:"list_selectors"`

	// JSON and XML list bodies.
	ListRoute  route.Route         `yaml:"list_route"`
	IDRoute    route.Route         `yaml:"id_route"`
	LinkRoute  route.Route         `yaml:"link_route"`
	ListRoutes Fields[route.Route] `yaml:"list_routes"`

	// Detail pages are always HTML.
	DetailSelectors Fields[route.Selector] `yaml:"detail_selectors"`
	SkipDetail      bool                   `yaml:"skip_detail"`

	KeepMediaLink *bool    `yaml:"keep_media_link"`
	TimeJunk      []string `yaml:"time_junk"`
	MaxTimeLength int      `yaml:"max_time_length"`
}

// DefaultMaxTimeLength bounds a plausible publish time string.
const DefaultMaxTimeLength = 64

// WithDefaults fills unset rules the way every feed expects them.
func (r Rules) WithDefaults() Rules {
	if r.Shape == "" {
		r.Shape = ShapeHTML
	}
	if r.IDPolicy == "" {
		r.IDPolicy = IDDigits
	}
	if !r.LinkSelector.IsSet() {
		r.LinkSelector = route.CSS("a")
	}
	if r.LinkSelector.Attr == "" {
		r.LinkSelector.Attr = "href"
	}
	if !r.DetailSelectors.Paragraphs.IsSet() {
		r.DetailSelectors.Paragraphs = route.CSS("p")
	}
	if r.KeepMediaLink == nil {
		keep := true
		r.KeepMediaLink = &keep
	}
	if r.MaxTimeLength == 0 {
		r.MaxTimeLength = DefaultMaxTimeLength
	}
	return r
}

// Validate checks that the rules can locate list entries at all.
func (r Rules) Validate() error {
	switch r.Shape {
	case ShapeHTML:
		if !r.ItemSelector.IsSet() {
			return fmt.Errorf("html rules need item_selector")
		}
	case ShapeJSON, ShapeXML:
		if !r.LinkRoute.IsSet() {
			return fmt.Errorf("%s rules need link_route", r.Shape)
		}
	case ShapeFeed:
	default:
		return fmt.Errorf("unknown shape %q", r.Shape)
	}
	switch r.IDPolicy {
	case IDDigits, IDLink, IDGUID:
	default:
		return fmt.Errorf("unknown id_policy %q", r.IDPolicy)
	}
	return nil
}

func (r Rules) keepMediaLink() bool {
	return r.KeepMediaLink == nil || *r.KeepMediaLink
}
