package source

import (
	"context"
	"fmt"

	"painradar/feed"
	"painradar/radar/internal/fetch"
)

// RSS harvests any RSS 2.0 or Atom 1.0 feed. Feeds have no reply
// structure, so FetchThread always returns nothing.
type RSS struct {
	client  *fetch.Client
	name    string
	feedURL string
}

// NewRSS creates a feed adapter. name becomes the source identifier
// (e.g. "rss/hn-pain").
func NewRSS(client *fetch.Client, name, feedURL string) *RSS {
	return &RSS{client: client, name: "rss/" + name, feedURL: feedURL}
}

func (r *RSS) Name() string { return r.name }

// ListRecent fetches and parses the feed, preserving entry order.
// Entry HTML is reduced to plain text before it enters the pipeline.
func (r *RSS) ListRecent(ctx context.Context, limit int) ([]RawItem, error) {
	data, err := r.client.Get(ctx, r.feedURL)
	if err != nil {
		return nil, fmt.Errorf("rss: fetch %s: %w", r.name, err)
	}
	parsed, err := feed.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rss: parse %s: %w", r.name, err)
	}

	items := make([]RawItem, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		if e.GUID == "" {
			continue
		}
		body := e.Content
		if body == "" {
			body = e.Description
		}
		items = append(items, RawItem{
			Source:     r.name,
			ExternalID: e.GUID,
			Title:      htmlToText(e.Title),
			Body:       htmlToText(body),
			Author:     e.Author,
			URL:        e.Link,
			CreatedAt:  e.Published,
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

// FetchThread is a no-op for feeds.
func (r *RSS) FetchThread(context.Context, RawItem) ([]RawItem, error) {
	return nil, nil
}
