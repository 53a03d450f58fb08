package manager

import (
	"context"
	"strings"
	"testing"

	"tidings/internal/model"
	"tidings/internal/opml"
)

const importDoc = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Top" type="rss" xmlUrl="http://top.example/feed"/>
    <outline text="News">
      <outline text="World" type="rss" xmlUrl="http://world.example/feed"/>
    </outline>
  </body>
</opml>
`

func TestImportOPMLCreatesFoldersAndFeeds(t *testing.T) {
	fake := &fakeAnalyzer{meta: model.FeedMeta{Title: "Imported"}}
	m := newTestManager(t, fake)

	added, err := m.ImportOPML(context.Background(), strings.NewReader(importDoc), m.Tree().Root())
	if err != nil {
		t.Fatalf("ImportOPML: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 feeds added, got %d", added)
	}

	if _, ok := m.Tree().FeedByURI("http://top.example/feed"); !ok {
		t.Fatal("top-level feed missing")
	}
	world, ok := m.Tree().FeedByURI("http://world.example/feed")
	if !ok {
		t.Fatal("nested feed missing")
	}

	// The nested feed sits inside the recreated folder, not at the root.
	var folderID int64
	for _, child := range m.Tree().Children(m.Tree().Root()) {
		if m.Tree().FolderTitle(child) == "News" {
			folderID = child
		}
	}
	if folderID == 0 {
		t.Fatal("News folder not created")
	}
	under := m.Tree().FeedsUnder(folderID)
	if len(under) != 1 || under[0].ID != world.ID {
		t.Fatalf("nested feed not placed in folder: %v", under)
	}
}

func TestImportOPMLSkipsAlreadySubscribed(t *testing.T) {
	fake := &fakeAnalyzer{meta: model.FeedMeta{Title: "Imported"}}
	m := newTestManager(t, fake)

	if _, err := m.AddFeed(context.Background(), "http://top.example/feed", m.Tree().Root(), "rss"); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}

	added, err := m.ImportOPML(context.Background(), strings.NewReader(importDoc), m.Tree().Root())
	if err != nil {
		t.Fatalf("ImportOPML: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected only the new feed added, got %d", added)
	}
	if total := len(m.Tree().AllFeeds()); total != 2 {
		t.Fatalf("expected 2 feeds total, got %d", total)
	}
}

func TestExportOPMLRoundTrip(t *testing.T) {
	fake := &fakeAnalyzer{meta: model.FeedMeta{Title: "Imported"}}
	m := newTestManager(t, fake)

	if _, err := m.ImportOPML(context.Background(), strings.NewReader(importDoc), m.Tree().Root()); err != nil {
		t.Fatalf("ImportOPML: %v", err)
	}

	var b strings.Builder
	if err := m.ExportOPML(&b, "Subscriptions"); err != nil {
		t.Fatalf("ExportOPML: %v", err)
	}

	outlines, err := opml.Parse(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("Parse exported document: %v", err)
	}
	if len(outlines) != 2 {
		t.Fatalf("expected 2 top-level outlines, got %d", len(outlines))
	}

	urls := map[string]bool{}
	var walk func([]opml.Outline)
	walk = func(outlines []opml.Outline) {
		for _, outline := range outlines {
			if outline.IsFeed() {
				urls[outline.URL] = true
			}
			walk(outline.Children)
		}
	}
	walk(outlines)

	if !urls["http://top.example/feed"] || !urls["http://world.example/feed"] {
		t.Fatalf("exported document missing feeds: %v", urls)
	}
}
