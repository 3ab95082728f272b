package feed

import (
	"testing"
	"time"
)

const rssSample = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
  <title>r/SaaS pain</title>
  <link>https://example.com</link>
  <item>
    <guid>post-1</guid>
    <title>Webhook keeps failing</title>
    <link>https://example.com/1</link>
    <description>Stripe Connect webhook fails randomly</description>
    <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
    <author>dev@example.com</author>
  </item>
  <item>
    <title>No guid item</title>
    <link>https://example.com/2</link>
  </item>
</channel>
</rss>`

const atomSample = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>builder forum</title>
  <link rel="alternate" href="https://example.org"/>
  <entry>
    <id>tag:example.org,2024:entry-1</id>
    <title>Churn problem</title>
    <link rel="alternate" href="https://example.org/e1"/>
    <summary>Losing customers after onboarding</summary>
    <published>2024-03-01T10:00:00Z</published>
    <author><name>maria</name></author>
  </entry>
</feed>`

func TestParse_RSS(t *testing.T) {
	f, err := Parse([]byte(rssSample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Title != "r/SaaS pain" {
		t.Errorf("title: got %q", f.Title)
	}
	if len(f.Entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(f.Entries))
	}
	e := f.Entries[0]
	if e.GUID != "post-1" || e.Title != "Webhook keeps failing" {
		t.Errorf("entry 0: %+v", e)
	}
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.FixedZone("", -7*3600))
	if !e.Published.Equal(want) {
		t.Errorf("published: got %v, want %v", e.Published, want)
	}
	// GUID falls back to link when absent.
	if f.Entries[1].GUID != "https://example.com/2" {
		t.Errorf("guid fallback: got %q", f.Entries[1].GUID)
	}
}

func TestParse_Atom(t *testing.T) {
	f, err := Parse([]byte(atomSample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(f.Entries))
	}
	e := f.Entries[0]
	if e.Author != "maria" || e.Link != "https://example.org/e1" {
		t.Errorf("entry: %+v", e)
	}
	if e.Published.IsZero() {
		t.Error("published should parse from RFC 3339")
	}
}

func TestParse_Unknown(t *testing.T) {
	if _, err := Parse([]byte(`<html></html>`)); err == nil {
		t.Error("expected error for non-feed XML")
	}
	if _, err := Parse([]byte("  ")); err == nil {
		t.Error("expected error for empty data")
	}
}
