package domain

import (
	"slices"
	"time"
)

// NewsItem is one article as it flows through a cycle. It is rebuilt on
// every poll and discarded after the publish attempt.
type NewsItem struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	PublishTime string   `json:"publish_time"`
	Source      string   `json:"source"`
	Paragraphs  string   `json:"paragraphs"`
	Images      []string `json:"images"`
	Videos      []string `json:"videos"`
}

// Equal reports whether two partial records carry exactly the same fields.
func (n NewsItem) Equal(o NewsItem) bool {
	return n.ID == o.ID &&
		n.Title == o.Title &&
		n.Link == o.Link &&
		n.PublishTime == o.PublishTime &&
		n.Source == o.Source &&
		n.Paragraphs == o.Paragraphs &&
		slices.Equal(n.Images, o.Images) &&
		slices.Equal(n.Videos, o.Videos)
}

// PostRecord is one row of the dedup ledger.
type PostRecord struct {
	ID       int64     `db:"id"`
	NewsID   string    `db:"news_id"`
	PostedAt time.Time `db:"posted_at"`
}
