// Package source defines the adapter boundary between the pipeline and the
// outside platforms it harvests, plus the reddit and RSS implementations.
//
// Adapters surface rate-limit signals via the shared fetch.Client; the
// pipeline never sees transport details, only RawItems or errors.
package source

import (
	"context"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

// RawItem is one post or reply as the platform presented it, before any
// storage identity is assigned.
type RawItem struct {
	Source     string
	ExternalID string
	ParentID   string // external ID of the thread root; empty for roots
	Title      string
	Body       string
	Author     string
	URL        string
	CreatedAt  time.Time
}

// Adapter supplies recent items from one configured source and, on demand,
// the nested replies of a thread. Implementations preserve the platform's
// native listing order.
type Adapter interface {
	// Name is the stable source identifier, e.g. "reddit/SaaS".
	Name() string
	// ListRecent returns up to limit recent top-level items.
	ListRecent(ctx context.Context, limit int) ([]RawItem, error)
	// FetchThread returns the replies nested under a top-level item.
	// Adapters without threads return an empty slice.
	FetchThread(ctx context.Context, item RawItem) ([]RawItem, error)
}

var htmlPolicy = bluemonday.UGCPolicy()

// htmlToText converts feed HTML into plain markdown-ish text: sanitize
// first (drops scripts and event handlers), then convert markup.
func htmlToText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	clean := htmlPolicy.Sanitize(s)
	md, err := htmltomarkdown.ConvertString(clean)
	if err != nil {
		return strings.TrimSpace(clean)
	}
	return strings.TrimSpace(md)
}
