// Package testutil provides an in-process feed transport and database
// helpers for tests.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"tidings/internal/store"
)

// FeedServer serves a mutable feed document through a swapped
// http.DefaultTransport, so no real network or listener is involved.
type FeedServer struct {
	mu      sync.RWMutex
	feedXML string
	status  int
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// NewFeedServer installs a transport answering exactly one URL derived from
// the test name and returns it together with that URL. The transport is
// restored on cleanup; tests using it must not run in parallel.
func NewFeedServer(t *testing.T, feedXML string) (*FeedServer, string) {
	t.Helper()
	fs := &FeedServer{feedXML: feedXML, status: http.StatusOK}
	feedURL := "https://feed.test/" + url.PathEscape(t.Name())
	prevTransport := http.DefaultTransport
	http.DefaultTransport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != feedURL {
			return nil, fmt.Errorf("unexpected feed url: %s", req.URL.String())
		}
		fs.mu.RLock()
		defer fs.mu.RUnlock()
		return &http.Response{
			StatusCode: fs.status,
			Status:     http.StatusText(fs.status),
			Header:     http.Header{"Content-Type": []string{"application/rss+xml"}},
			Body:       io.NopCloser(strings.NewReader(fs.feedXML)),
			Request:    req,
		}, nil
	})
	t.Cleanup(func() { http.DefaultTransport = prevTransport })
	return fs, feedURL
}

// SetFeedXML replaces the served document.
func (f *FeedServer) SetFeedXML(xml string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedXML = xml
}

// SetStatus changes the HTTP status served for every request.
func (f *FeedServer) SetStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// RSSItem is one <item> in a generated test feed.
type RSSItem struct {
	Title       string
	Link        string
	GUID        string
	PubDate     string
	Description string
}

// RSSXML renders a minimal RSS 2.0 document.
func RSSXML(title string, items []RSSItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("<rss version=\"2.0\"><channel>")
	b.WriteString(fmt.Sprintf("<title>%s</title>", title))
	b.WriteString("<link>http://example.com</link>")
	b.WriteString("<description>Test feed</description>")
	for _, item := range items {
		b.WriteString("<item>")
		b.WriteString(fmt.Sprintf("<title>%s</title>", item.Title))
		b.WriteString(fmt.Sprintf("<link>%s</link>", item.Link))
		b.WriteString(fmt.Sprintf("<guid>%s</guid>", item.GUID))
		b.WriteString(fmt.Sprintf("<pubDate>%s</pubDate>", item.PubDate))
		b.WriteString(fmt.Sprintf("<description><![CDATA[%s]]></description>", item.Description))
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

// OpenTestDB opens an initialized article database in a temp directory.
func OpenTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := store.Init(db); err != nil {
		_ = db.Close()
		t.Fatalf("store.Init: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// DurationPtr returns a pointer to d.
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}
