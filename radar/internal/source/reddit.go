package source

import (
	"context"
	"fmt"
	"time"

	"painradar/radar/internal/fetch"
)

// RedditConfig configures one subreddit adapter.
type RedditConfig struct {
	// Subreddit without the r/ prefix.
	Subreddit string
	// Listing kind: new, hot, top, rising. Default: new.
	Listing string
	// MaxComments caps replies fetched per thread. Default: 15.
	MaxComments int
	// BaseURL overrides the reddit endpoint (tests). Default: https://www.reddit.com.
	BaseURL string
}

func (c *RedditConfig) defaults() {
	if c.Listing == "" {
		c.Listing = "new"
	}
	if c.MaxComments <= 0 {
		c.MaxComments = 15
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://www.reddit.com"
	}
}

// Reddit harvests a subreddit through the public JSON endpoints — no API
// credentials, which is why the fetcher's politeness settings matter.
type Reddit struct {
	client *fetch.Client
	config RedditConfig
}

// NewReddit creates a subreddit adapter.
func NewReddit(client *fetch.Client, cfg RedditConfig) *Reddit {
	cfg.defaults()
	return &Reddit{client: client, config: cfg}
}

func (r *Reddit) Name() string {
	return "reddit/" + r.config.Subreddit
}

// redditThing is the subset of reddit's t3 (post) / t1 (comment) payload
// the pipeline uses.
type redditThing struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// ListRecent fetches the subreddit listing, preserving reddit's order.
func (r *Reddit) ListRecent(ctx context.Context, limit int) ([]RawItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	url := fmt.Sprintf("%s/r/%s/%s.json?limit=%d",
		r.config.BaseURL, r.config.Subreddit, r.config.Listing, limit)

	var listing redditListing
	if err := r.client.GetJSON(ctx, url, &listing); err != nil {
		return nil, fmt.Errorf("reddit: list %s: %w", r.Name(), err)
	}

	items := make([]RawItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Kind != "t3" || child.Data.ID == "" {
			continue
		}
		d := child.Data
		items = append(items, RawItem{
			Source:     r.Name(),
			ExternalID: d.ID,
			Title:      d.Title,
			Body:       d.SelfText,
			Author:     d.Author,
			URL:        r.config.BaseURL + d.Permalink,
			CreatedAt:  time.Unix(int64(d.CreatedUTC), 0).UTC(),
		})
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

// FetchThread fetches the comments of one post. Deleted and removed
// comments are skipped; at most MaxComments are returned.
func (r *Reddit) FetchThread(ctx context.Context, item RawItem) ([]RawItem, error) {
	// The thread endpoint returns a two-element array: [post, comments].
	var thread []redditListing
	if err := r.client.GetJSON(ctx, item.URL+".json", &thread); err != nil {
		return nil, fmt.Errorf("reddit: thread %s: %w", item.ExternalID, err)
	}
	if len(thread) < 2 {
		return nil, nil
	}

	var out []RawItem
	for _, child := range thread[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		d := child.Data
		if d.Body == "" || d.Body == "[deleted]" || d.Body == "[removed]" {
			continue
		}
		out = append(out, RawItem{
			Source:     r.Name(),
			ExternalID: d.ID,
			ParentID:   item.ExternalID,
			Body:       d.Body,
			Author:     d.Author,
			URL:        item.URL,
			CreatedAt:  time.Unix(int64(d.CreatedUTC), 0).UTC(),
		})
		if len(out) >= r.config.MaxComments {
			break
		}
	}
	return out, nil
}
