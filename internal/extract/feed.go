package extract

import (
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"telegram_news/internal/domain"
	"telegram_news/internal/sanitize"
)

// FeedList extracts items from an RSS, Atom or JSON Feed document.
type FeedList struct {
	rules Rules
}

func (l *FeedList) ExtractList(body, listURL string) ([]domain.NewsItem, error) {
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	keep := l.rules.keepMediaLink()
	items := make([]domain.NewsItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		link := sanitize.ResolveURL(entry.Link, listURL)
		if link == "" {
			continue
		}
		item := domain.NewsItem{
			ID:    idFor(l.rules.IDPolicy, link),
			Link:  link,
			Title: sanitize.Escape(cleanTitle(entry.Title)),
		}
		if l.rules.IDPolicy == IDGUID && strings.TrimSpace(entry.GUID) != "" {
			item.ID = strings.TrimSpace(entry.GUID)
		}

		content := entry.Content
		if strings.TrimSpace(content) == "" {
			content = entry.Description
		}
		if content != "" {
			item.Paragraphs = JoinParagraphs([]string{sanitize.Inline(content, link, keep)})
		}
		item.PublishTime = sanitize.Escape(CleanTime(entry.Published, l.rules.TimeJunk, l.rules.MaxTimeLength))
		if entry.Author != nil && entry.Author.Name != "" {
			item.Source = sanitize.Escape(entry.Author.Name)
		}

		var images, videos []string
		if entry.Image != nil {
			images = append(images, entry.Image.URL)
		}
		for _, enc := range entry.Enclosures {
			switch {
			case strings.HasPrefix(enc.Type, "image/"):
				images = append(images, enc.URL)
			case strings.HasPrefix(enc.Type, "video/"):
				videos = append(videos, enc.URL)
			}
		}
		item.Images = resolveAll(images, link)
		item.Videos = resolveAll(videos, link)
		items = append(items, item)
	}
	return items, nil
}
