package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"painradar/radar/internal/fetch"
	"painradar/retry"
)

func testClient() *fetch.Client {
	return fetch.New(fetch.Config{
		PerOriginDelay: time.Millisecond,
		Retry:          retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil)
}

const redditListingJSON = `{
  "data": {
    "children": [
      {"kind": "t3", "data": {"id": "p1", "title": "Webhook pain", "selftext": "Stripe webhook fails", "author": "alice", "permalink": "/r/SaaS/comments/p1/webhook_pain/", "created_utc": 1700000000}},
      {"kind": "t3", "data": {"id": "p2", "title": "CRM question", "selftext": "", "author": "bob", "permalink": "/r/SaaS/comments/p2/crm/", "created_utc": 1700000100}}
    ]
  }
}`

const redditThreadJSON = `[
  {"data": {"children": [{"kind": "t3", "data": {"id": "p1"}}]}},
  {"data": {"children": [
    {"kind": "t1", "data": {"id": "c1", "body": "same here, costs us hours", "author": "carol", "created_utc": 1700000200}},
    {"kind": "t1", "data": {"id": "c2", "body": "[deleted]", "author": "x", "created_utc": 1700000300}},
    {"kind": "t1", "data": {"id": "c3", "body": "we pay for a workaround", "author": "dan", "created_utc": 1700000400}}
  ]}}
]`

func TestReddit_ListRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/SaaS/new.json" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Write([]byte(redditListingJSON))
	}))
	defer srv.Close()

	a := NewReddit(testClient(), RedditConfig{Subreddit: "SaaS", BaseURL: srv.URL})
	items, err := a.ListRecent(context.Background(), 25)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items: got %d, want 2", len(items))
	}
	first := items[0]
	if first.Source != "reddit/SaaS" || first.ExternalID != "p1" {
		t.Errorf("identity: %+v", first)
	}
	if first.Title != "Webhook pain" || first.Body != "Stripe webhook fails" {
		t.Errorf("content: %+v", first)
	}
	if first.CreatedAt != time.Unix(1700000000, 0).UTC() {
		t.Errorf("created_at: %v", first.CreatedAt)
	}
	// Native listing order preserved.
	if items[1].ExternalID != "p2" {
		t.Errorf("order: %+v", items[1])
	}
}

func TestReddit_FetchThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".json") {
			t.Errorf("thread path missing .json: %s", r.URL.Path)
		}
		w.Write([]byte(redditThreadJSON))
	}))
	defer srv.Close()

	a := NewReddit(testClient(), RedditConfig{Subreddit: "SaaS", BaseURL: srv.URL, MaxComments: 10})
	root := RawItem{Source: "reddit/SaaS", ExternalID: "p1", URL: srv.URL + "/r/SaaS/comments/p1/webhook_pain"}
	replies, err := a.FetchThread(context.Background(), root)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	// Deleted comment filtered out.
	if len(replies) != 2 {
		t.Fatalf("replies: got %d, want 2", len(replies))
	}
	if replies[0].ParentID != "p1" || replies[0].ExternalID != "c1" {
		t.Errorf("reply identity: %+v", replies[0])
	}
}

func TestReddit_MaxCommentsCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(redditThreadJSON))
	}))
	defer srv.Close()

	a := NewReddit(testClient(), RedditConfig{Subreddit: "SaaS", BaseURL: srv.URL, MaxComments: 1})
	replies, err := a.FetchThread(context.Background(), RawItem{ExternalID: "p1", URL: srv.URL + "/t"})
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 {
		t.Errorf("cap: got %d, want 1", len(replies))
	}
}

const rssFeedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>pain feed</title>
  <item>
    <guid>e1</guid>
    <title>Onboarding &amp; churn</title>
    <link>https://example.com/e1</link>
    <description>&lt;p&gt;We keep &lt;b&gt;losing&lt;/b&gt; customers&lt;/p&gt;&lt;script&gt;evil()&lt;/script&gt;</description>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
  </item>
</channel></rss>`

func TestRSS_ListRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeedXML))
	}))
	defer srv.Close()

	a := NewRSS(testClient(), "painfeed", srv.URL)
	if a.Name() != "rss/painfeed" {
		t.Errorf("name: %s", a.Name())
	}
	items, err := a.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items: got %d", len(items))
	}
	body := items[0].Body
	if !strings.Contains(body, "losing") {
		t.Errorf("body lost text: %q", body)
	}
	if strings.Contains(body, "<p>") || strings.Contains(body, "evil()") {
		t.Errorf("body kept markup/script: %q", body)
	}

	replies, err := a.FetchThread(context.Background(), items[0])
	if err != nil || len(replies) != 0 {
		t.Errorf("feed threads should be empty: %v %v", replies, err)
	}
}

func TestRSS_UnlimitedList(t *testing.T) {
	// limit <= 0 means no cap, same as the reddit adapter.
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>f</title>
  <item><guid>e1</guid><title>one</title></item>
  <item><guid>e2</guid><title>two</title></item>
  <item><guid>e3</guid><title>three</title></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	a := NewRSS(testClient(), "painfeed", srv.URL)
	items, err := a.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items: got %d, want all 3", len(items))
	}
}
