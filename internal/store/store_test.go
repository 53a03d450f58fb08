package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"tidings/internal/model"
	"tidings/internal/store"
	"tidings/internal/testutil"
)

var baseTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func article(feedID int64, identifier string, updated time.Time) model.Article {
	return model.Article{
		FeedID:     feedID,
		Identifier: identifier,
		URI:        "http://example.com/" + identifier,
		Title:      "Article " + identifier,
		Updated:    updated,
		Content:    "body of " + identifier,
		Unread:     true,
	}
}

func TestApplyRefreshInsertsNewArticles(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	inserts := []model.Article{
		article(1, "a1", baseTime),
		article(1, "a2", baseTime.Add(time.Hour)),
	}
	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil, inserts); err != nil {
		t.Fatalf("ApplyRefresh: %v", err)
	}

	got, err := store.ArticlesByFeed(ctx, db, 1, 0)
	if err != nil {
		t.Fatalf("ArticlesByFeed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(got))
	}
	// Newest first.
	if got[0].Identifier != "a2" || got[1].Identifier != "a1" {
		t.Fatalf("wrong order: %q, %q", got[0].Identifier, got[1].Identifier)
	}
	if !got[1].Updated.Equal(baseTime) {
		t.Fatalf("updated round-trip mismatch: %v != %v", got[1].Updated, baseTime)
	}
	if !got[0].Unread {
		t.Fatal("inserted article should be unread")
	}
}

func TestApplyRefreshUpdatePreservesUnreadAndFlag(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil,
		[]model.Article{article(1, "a1", baseTime)}); err != nil {
		t.Fatalf("ApplyRefresh insert: %v", err)
	}
	if _, err := store.SetUnread(ctx, db, 1, "a1", false); err != nil {
		t.Fatalf("SetUnread: %v", err)
	}
	if err := store.ToggleFlag(ctx, db, 1, "a1"); err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}

	updated := article(1, "a1", baseTime.Add(time.Minute))
	updated.Title = "Revised title"
	if err := store.ApplyRefresh(ctx, db, 1, time.Time{},
		[]model.Article{updated}, nil); err != nil {
		t.Fatalf("ApplyRefresh update: %v", err)
	}

	got, err := store.ArticlesByFeed(ctx, db, 1, 0)
	if err != nil {
		t.Fatalf("ArticlesByFeed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 article, got %d", len(got))
	}
	if got[0].Title != "Revised title" {
		t.Fatalf("title not updated: %q", got[0].Title)
	}
	if got[0].Unread {
		t.Fatal("update must not resurrect the unread flag")
	}
	if !got[0].Flag {
		t.Fatal("update must not clear the star flag")
	}
}

func TestApplyRefreshCutoffKeepsBoundaryArticle(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	cutoff := baseTime.Add(24 * time.Hour)
	inserts := []model.Article{
		article(1, "stale", cutoff.Add(-time.Second)),
		article(1, "boundary", cutoff),
		article(1, "fresh", cutoff.Add(time.Second)),
	}
	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil, inserts); err != nil {
		t.Fatalf("ApplyRefresh insert: %v", err)
	}

	if err := store.ApplyRefresh(ctx, db, 1, cutoff, nil, nil); err != nil {
		t.Fatalf("ApplyRefresh with cutoff: %v", err)
	}

	known, err := store.KnownIdentifiers(ctx, db, 1)
	if err != nil {
		t.Fatalf("KnownIdentifiers: %v", err)
	}
	if _, ok := known["stale"]; ok {
		t.Fatal("article older than cutoff should be deleted")
	}
	if _, ok := known["boundary"]; !ok {
		t.Fatal("article exactly at cutoff must be retained")
	}
	if _, ok := known["fresh"]; !ok {
		t.Fatal("article newer than cutoff must be retained")
	}
}

func TestApplyRefreshZeroCutoffDeletesNothing(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	old := article(1, "ancient", time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil, []model.Article{old}); err != nil {
		t.Fatalf("ApplyRefresh insert: %v", err)
	}
	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil, nil); err != nil {
		t.Fatalf("ApplyRefresh no-op: %v", err)
	}

	known, err := store.KnownIdentifiers(ctx, db, 1)
	if err != nil {
		t.Fatalf("KnownIdentifiers: %v", err)
	}
	if _, ok := known["ancient"]; !ok {
		t.Fatal("zero cutoff must keep every article")
	}
}

func TestKnownIdentifiersScopedToFeed(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil,
		[]model.Article{article(1, "shared", baseTime)}); err != nil {
		t.Fatalf("ApplyRefresh feed 1: %v", err)
	}
	if err := store.ApplyRefresh(ctx, db, 2, time.Time{}, nil,
		[]model.Article{article(2, "shared", baseTime.Add(time.Hour))}); err != nil {
		t.Fatalf("ApplyRefresh feed 2: %v", err)
	}

	known, err := store.KnownIdentifiers(ctx, db, 1)
	if err != nil {
		t.Fatalf("KnownIdentifiers: %v", err)
	}
	if len(known) != 1 {
		t.Fatalf("expected 1 identifier for feed 1, got %d", len(known))
	}
	if !known["shared"].Equal(baseTime) {
		t.Fatalf("feed 1 timestamp leaked from feed 2: %v", known["shared"])
	}
}

func TestSetUnreadReportsNoop(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil,
		[]model.Article{article(1, "a1", baseTime)}); err != nil {
		t.Fatalf("ApplyRefresh: %v", err)
	}

	changed, err := store.SetUnread(ctx, db, 1, "a1", false)
	if err != nil {
		t.Fatalf("SetUnread: %v", err)
	}
	if !changed {
		t.Fatal("first transition should report changed")
	}

	changed, err = store.SetUnread(ctx, db, 1, "a1", false)
	if err != nil {
		t.Fatalf("SetUnread repeat: %v", err)
	}
	if changed {
		t.Fatal("setting the same state again must be a no-op")
	}
}

func TestCountUnread(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	inserts := []model.Article{
		article(1, "a1", baseTime),
		article(1, "a2", baseTime.Add(time.Minute)),
		article(2, "b1", baseTime),
	}
	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil, inserts[:2]); err != nil {
		t.Fatalf("ApplyRefresh feed 1: %v", err)
	}
	if err := store.ApplyRefresh(ctx, db, 2, time.Time{}, nil, inserts[2:]); err != nil {
		t.Fatalf("ApplyRefresh feed 2: %v", err)
	}
	if _, err := store.SetUnread(ctx, db, 1, "a1", false); err != nil {
		t.Fatalf("SetUnread: %v", err)
	}

	count, err := store.CountUnread(ctx, db, 1)
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unread for feed 1, got %d", count)
	}
}

func TestToggleFlagMissingArticle(t *testing.T) {
	db := testutil.OpenTestDB(t)

	err := store.ToggleFlag(context.Background(), db, 1, "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDeleteFeedArticlesScopedToFeed(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil,
		[]model.Article{article(1, "a1", baseTime)}); err != nil {
		t.Fatalf("ApplyRefresh feed 1: %v", err)
	}
	if err := store.ApplyRefresh(ctx, db, 2, time.Time{}, nil,
		[]model.Article{article(2, "b1", baseTime)}); err != nil {
		t.Fatalf("ApplyRefresh feed 2: %v", err)
	}

	if err := store.DeleteFeedArticles(ctx, db, 1); err != nil {
		t.Fatalf("DeleteFeedArticles: %v", err)
	}

	gone, err := store.ArticlesByFeed(ctx, db, 1, 0)
	if err != nil {
		t.Fatalf("ArticlesByFeed feed 1: %v", err)
	}
	if len(gone) != 0 {
		t.Fatalf("expected feed 1 empty, got %d articles", len(gone))
	}
	kept, err := store.ArticlesByFeed(ctx, db, 2, 0)
	if err != nil {
		t.Fatalf("ArticlesByFeed feed 2: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("expected feed 2 untouched, got %d articles", len(kept))
	}
}

func TestArticlesByFeedAppliesDefaultLimit(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	var inserts []model.Article
	for i := 0; i < store.DefaultArticleLimit+5; i++ {
		identifier := fmt.Sprintf("id-%03d", i)
		inserts = append(inserts, article(1, identifier, baseTime.Add(time.Duration(i)*time.Second)))
	}
	if err := store.ApplyRefresh(ctx, db, 1, time.Time{}, nil, inserts); err != nil {
		t.Fatalf("ApplyRefresh: %v", err)
	}

	got, err := store.ArticlesByFeed(ctx, db, 1, 0)
	if err != nil {
		t.Fatalf("ArticlesByFeed: %v", err)
	}
	if len(got) != store.DefaultArticleLimit {
		t.Fatalf("expected %d articles, got %d", store.DefaultArticleLimit, len(got))
	}
}
