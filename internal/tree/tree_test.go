package tree

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tidings/internal/model"
)

func newFeed(uri string) *model.Feed {
	return &model.Feed{
		URI:      uri,
		Analyzer: "rss",
		Title:    "Feed " + uri,
		Updated:  time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestAddFeedAssignsUniqueIDs(t *testing.T) {
	tr := New()

	id1, err := tr.AddFeed(tr.Root(), newFeed("http://a.example/feed"))
	if err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	id2, err := tr.AddFeed(tr.Root(), newFeed("http://b.example/feed"))
	if err != nil {
		t.Fatalf("AddFeed: %v", err)
	}

	if id1 == id2 {
		t.Fatalf("feed IDs must be unique, both got %d", id1)
	}
	if id1 == 0 || id2 == 0 {
		t.Fatal("handle 0 is reserved and must never be allocated")
	}

	feed, ok := tr.Feed(id1)
	if !ok {
		t.Fatalf("feed %d not found", id1)
	}
	if feed.ID != id1 {
		t.Fatalf("feed.ID = %d, expected %d", feed.ID, id1)
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestAddFeedUnderFeedFails(t *testing.T) {
	tr := New()
	feedID, err := tr.AddFeed(tr.Root(), newFeed("http://a.example/feed"))
	if err != nil {
		t.Fatalf("AddFeed: %v", err)
	}

	if _, err := tr.AddFeed(feedID, newFeed("http://b.example/feed")); !errors.Is(err, ErrNotFolder) {
		t.Fatalf("expected ErrNotFolder, got %v", err)
	}
	if _, err := tr.AddFolder(feedID, "sub"); !errors.Is(err, ErrNotFolder) {
		t.Fatalf("expected ErrNotFolder, got %v", err)
	}
}

func TestRemoveFolderCascades(t *testing.T) {
	tr := New()

	folder, err := tr.AddFolder(tr.Root(), "News")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	sub, err := tr.AddFolder(folder, "Tech")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	inner, err := tr.AddFeed(sub, newFeed("http://tech.example/feed"))
	if err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	outer, err := tr.AddFeed(tr.Root(), newFeed("http://top.example/feed"))
	if err != nil {
		t.Fatalf("AddFeed: %v", err)
	}

	removed, err := tr.Remove(folder)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != inner {
		t.Fatalf("expected removed feed %d, got %v", inner, removed)
	}

	if _, ok := tr.Feed(inner); ok {
		t.Fatal("feed inside removed folder still present")
	}
	if tr.IsFolder(sub) {
		t.Fatal("subfolder of removed folder still present")
	}
	if _, ok := tr.Feed(outer); !ok {
		t.Fatal("sibling feed should survive")
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate after remove: %v", err)
	}
}

func TestRemoveRootRejected(t *testing.T) {
	tr := New()
	if _, err := tr.Remove(tr.Root()); !errors.Is(err, ErrIsRoot) {
		t.Fatalf("expected ErrIsRoot, got %v", err)
	}
	if err := tr.Rename(tr.Root(), "nope"); !errors.Is(err, ErrIsRoot) {
		t.Fatalf("expected ErrIsRoot on rename, got %v", err)
	}
}

func TestRenameFolder(t *testing.T) {
	tr := New()
	folder, err := tr.AddFolder(tr.Root(), "Old")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if err := tr.Rename(folder, "New"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if title := tr.FolderTitle(folder); title != "New" {
		t.Fatalf("FolderTitle = %q, expected %q", title, "New")
	}
}

func TestFeedsUnderCollectsSubtree(t *testing.T) {
	tr := New()

	folder, _ := tr.AddFolder(tr.Root(), "News")
	sub, _ := tr.AddFolder(folder, "Tech")
	a, _ := tr.AddFeed(folder, newFeed("http://a.example/feed"))
	b, _ := tr.AddFeed(sub, newFeed("http://b.example/feed"))
	tr.AddFeed(tr.Root(), newFeed("http://c.example/feed"))

	feeds := tr.FeedsUnder(folder)
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds under folder, got %d", len(feeds))
	}
	got := map[int64]bool{}
	for _, feed := range feeds {
		got[feed.ID] = true
	}
	if !got[a] || !got[b] {
		t.Fatalf("missing feeds: got %v, expected %d and %d", got, a, b)
	}

	if all := tr.AllFeeds(); len(all) != 3 {
		t.Fatalf("expected 3 feeds total, got %d", len(all))
	}
}

func TestFeedByURI(t *testing.T) {
	tr := New()
	id, _ := tr.AddFeed(tr.Root(), newFeed("http://a.example/feed"))

	feed, ok := tr.FeedByURI("http://a.example/feed")
	if !ok || feed.ID != id {
		t.Fatalf("FeedByURI: ok=%v, feed=%v", ok, feed)
	}
	if _, ok := tr.FeedByURI("http://missing.example/feed"); ok {
		t.Fatal("unexpected match for unknown URI")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tr := New()

	folder, _ := tr.AddFolder(tr.Root(), "News")
	feed := newFeed("http://a.example/feed")
	feed.CustomTitle = "Renamed"
	feed.Author = "Alice"
	feed.MuteNotify = true
	rate := 5 * time.Minute
	feed.RefreshRate = &rate
	retention := 48 * time.Hour
	feed.Retention = &retention
	feedID, _ := tr.AddFeed(folder, feed)
	topID, _ := tr.AddFeed(tr.Root(), newFeed("http://b.example/feed"))

	path := filepath.Join(t.TempDir(), "feeds.json")
	if err := tr.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := loaded.Feed(feedID)
	if !ok {
		t.Fatalf("feed %d missing after reload", feedID)
	}
	if got.URI != feed.URI || got.CustomTitle != "Renamed" || got.Author != "Alice" {
		t.Fatalf("feed fields lost: %+v", got)
	}
	if !got.MuteNotify {
		t.Fatal("mute flag lost")
	}
	if got.RefreshRate == nil || *got.RefreshRate != rate {
		t.Fatalf("refresh rate lost: %v", got.RefreshRate)
	}
	if got.Retention == nil || *got.Retention != retention {
		t.Fatalf("retention lost: %v", got.Retention)
	}
	if _, ok := loaded.Feed(topID); !ok {
		t.Fatalf("top-level feed %d missing after reload", topID)
	}
	if err := loaded.Validate(); err != nil {
		t.Fatalf("Validate after load: %v", err)
	}
}

func TestLoadPreservesNextID(t *testing.T) {
	tr := New()
	first, _ := tr.AddFeed(tr.Root(), newFeed("http://a.example/feed"))
	second, _ := tr.AddFeed(tr.Root(), newFeed("http://b.example/feed"))
	if _, err := tr.Remove(second); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	path := filepath.Join(t.TempDir(), "feeds.json")
	if err := tr.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// The deleted feed's ID must never be reused for a new subscription.
	next, err := loaded.AddFeed(loaded.Root(), newFeed("http://c.example/feed"))
	if err != nil {
		t.Fatalf("AddFeed after reload: %v", err)
	}
	if next == first || next == second {
		t.Fatalf("reused feed ID %d", next)
	}
}

func TestLoadMissingFileYieldsEmptyTree(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.AllFeeds()) != 0 {
		t.Fatal("expected empty tree for missing file")
	}
	if err := loaded.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
