package manager

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tidings/internal/content"
	"tidings/internal/model"
	"tidings/internal/store"
)

// reconcile merges freshly parsed articles into the store for one feed.
//
// The algorithm is idempotent: stale incoming articles are skipped, unknown
// identifiers are inserted as unread, and known identifiers are refreshed
// only when the incoming timestamp is strictly newer than the stored one,
// so re-running with the same parsed list changes nothing. Deletion,
// updates and inserts for one run land in a single transaction.
//
// Callers hold m.mu.
func (m *Manager) reconcile(ctx context.Context, feed *model.Feed, incoming []model.Article) error {
	retention := m.cfg.DefaultRetention
	if feed.Retention != nil {
		retention = *feed.Retention
	}

	// Zero retention keeps articles forever.
	var cutoff time.Time
	if retention > 0 {
		cutoff = m.now().UTC().Add(-retention)
	}

	known, err := store.KnownIdentifiers(ctx, m.db, feed.ID)
	if err != nil {
		return err
	}
	// Rows past retention are deleted by ApplyRefresh below; drop them from
	// the known set now so a republished article classifies as a fresh
	// insert, not an update against a row that no longer exists.
	if !cutoff.IsZero() {
		for identifier, stored := range known {
			if stored.Before(cutoff) {
				delete(known, identifier)
			}
		}
	}

	var fresh, changed []model.Article
	for _, article := range incoming {
		article.FeedID = feed.ID
		// The store keeps epoch seconds; truncate before comparing so a
		// re-fetch of an unchanged article never looks newer than its
		// stored copy.
		article.Updated = article.Updated.Truncate(time.Second)

		stored, ok := known[article.Identifier]

		// An item without a date element gives no way to detect edits: a
		// known identifier counts as unchanged, a new one is stamped with
		// the fetch time.
		if article.Updated.IsZero() {
			if ok {
				continue
			}
			article.Updated = m.now().UTC().Truncate(time.Second)
		}

		if !cutoff.IsZero() && article.Updated.Before(cutoff) {
			continue
		}

		article.Content = content.NormalizeHTML(article.Content, contentBase(feed, article))

		if !ok {
			article.Unread = true
			fresh = append(fresh, article)
			continue
		}
		if article.Updated.After(stored) {
			changed = append(changed, article)
		}
	}

	if err := store.ApplyRefresh(ctx, m.db, feed.ID, cutoff, changed, fresh); err != nil {
		return err
	}

	for i := range fresh {
		if feed.MuteNotify {
			break
		}
		m.publish(Event{Kind: EventNewArticle, FeedID: feed.ID, Article: &fresh[i]})
	}
	for i := range changed {
		m.publish(Event{Kind: EventArticleUpdated, FeedID: feed.ID, Article: &changed[i]})
	}

	count, err := store.CountUnread(ctx, m.db, feed.ID)
	if err != nil {
		return err
	}
	feed.UnreadCount = count

	if len(fresh) > 0 || len(changed) > 0 {
		slog.Info("feed reconciled",
			"feed_id", feed.ID,
			"articles_in_feed", len(incoming),
			"articles_new", len(fresh),
			"articles_updated", len(changed),
			"unread", count,
		)
	}
	return nil
}

// contentBase picks the URL relative references in article HTML resolve
// against: the article's own link when absolute, otherwise the feed's.
func contentBase(feed *model.Feed, article model.Article) string {
	if strings.Contains(article.URI, "://") {
		return article.URI
	}
	return feed.URI
}
