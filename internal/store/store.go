// Package store provides the SQLite-backed article store.
//
// Articles are keyed by (feed_id, identifier); the identifier is only unique
// within a feed. All mutations that belong to one reconciliation batch run
// in a single transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	_ "modernc.org/sqlite" // Register the sqlite database/sql driver.

	"tidings/internal/model"
)

// DefaultArticleLimit caps per-feed article listings.
const DefaultArticleLimit = 200

// Open opens the article database at path.
func Open(path string) (*sqlx.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite behaves best with a single connection for this workload; it
	// also serializes the synchronous add-feed path against the async
	// reconciliation path.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return db, nil
}

// Init creates the schema.
func Init(db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS articles (
	feed_id INTEGER NOT NULL,
	identifier TEXT NOT NULL,
	uri TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	updated INTEGER NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	unread INTEGER NOT NULL DEFAULT 1,
	flag INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (feed_id, identifier)
);
`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

type dbArticle struct {
	FeedID     int64  `db:"feed_id"`
	Identifier string `db:"identifier"`
	URI        string `db:"uri"`
	Title      string `db:"title"`
	Updated    int64  `db:"updated"`
	Author     string `db:"author"`
	Content    string `db:"content"`
	Unread     bool   `db:"unread"`
	Flag       bool   `db:"flag"`
}

func toDBArticle(article model.Article) dbArticle {
	return dbArticle{
		FeedID:     article.FeedID,
		Identifier: article.Identifier,
		URI:        article.URI,
		Title:      article.Title,
		Updated:    article.Updated.Unix(),
		Author:     article.Author,
		Content:    article.Content,
		Unread:     article.Unread,
		Flag:       article.Flag,
	}
}

func toModelArticle(row dbArticle) model.Article {
	return model.Article{
		FeedID:     row.FeedID,
		Identifier: row.Identifier,
		URI:        row.URI,
		Title:      row.Title,
		Updated:    time.Unix(row.Updated, 0).UTC(),
		Author:     row.Author,
		Content:    row.Content,
		Unread:     row.Unread,
		Flag:       row.Flag,
	}
}

// ArticlesByFeed returns up to limit articles for a feed, newest first.
// limit <= 0 applies DefaultArticleLimit.
func ArticlesByFeed(ctx context.Context, db *sqlx.DB, feedID int64, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = DefaultArticleLimit
	}

	var rows []dbArticle
	err := db.SelectContext(ctx, &rows, `
SELECT feed_id, identifier, uri, title, updated, author, content, unread, flag
FROM articles
WHERE feed_id = ?
ORDER BY updated DESC, identifier ASC
LIMIT ?
`, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("query articles for feed %d: %w", feedID, err)
	}

	return lo.Map(rows, func(row dbArticle, _ int) model.Article {
		return toModelArticle(row)
	}), nil
}

// KnownIdentifiers returns the identifier -> updated pairs already stored
// for a feed. Reconciliation diffs incoming articles against this map.
func KnownIdentifiers(ctx context.Context, db *sqlx.DB, feedID int64) (map[string]time.Time, error) {
	type idRow struct {
		Identifier string `db:"identifier"`
		Updated    int64  `db:"updated"`
	}

	var rows []idRow
	err := db.SelectContext(ctx, &rows, `
SELECT identifier, updated FROM articles WHERE feed_id = ?
`, feedID)
	if err != nil {
		return nil, fmt.Errorf("query known identifiers for feed %d: %w", feedID, err)
	}

	known := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		known[row.Identifier] = time.Unix(row.Updated, 0).UTC()
	}
	return known, nil
}

// ApplyRefresh applies one reconciliation batch in a single transaction:
// delete everything older than cutoff (skipped when cutoff is the zero
// time), refresh changed articles, insert new ones.
func ApplyRefresh(
	ctx context.Context,
	db *sqlx.DB,
	feedID int64,
	cutoff time.Time,
	updates, inserts []model.Article,
) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	if !cutoff.IsZero() {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM articles WHERE feed_id = ? AND updated < ?",
			feedID, cutoff.Unix(),
		); err != nil {
			return fmt.Errorf("delete stale articles for feed %d: %w", feedID, err)
		}
	}

	for _, article := range updates {
		row := toDBArticle(article)
		// The unread flag is deliberately untouched: an upstream edit does
		// not make an already-read article unread again.
		if _, err := tx.NamedExecContext(ctx, `
UPDATE articles
SET uri = :uri, title = :title, updated = :updated, author = :author, content = :content
WHERE feed_id = :feed_id AND identifier = :identifier
`, row); err != nil {
			return fmt.Errorf("update article %q for feed %d: %w", article.Identifier, feedID, err)
		}
	}

	for _, article := range inserts {
		row := toDBArticle(article)
		if _, err := tx.NamedExecContext(ctx, `
INSERT INTO articles (feed_id, identifier, uri, title, updated, author, content, unread, flag)
VALUES (:feed_id, :identifier, :uri, :title, :updated, :author, :content, :unread, :flag)
`, row); err != nil {
			return fmt.Errorf("insert article %q for feed %d: %w", article.Identifier, feedID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh transaction: %w", err)
	}
	committed = true

	return nil
}

// DeleteFeedArticles removes every article belonging to a feed.
func DeleteFeedArticles(ctx context.Context, db *sqlx.DB, feedID int64) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM articles WHERE feed_id = ?", feedID); err != nil {
		return fmt.Errorf("delete articles for feed %d: %w", feedID, err)
	}
	return nil
}

// CountUnread returns the number of unread articles for a feed. The cached
// per-feed counter is always refreshed from this full count, never
// incremented, so it cannot drift under concurrent updates.
func CountUnread(ctx context.Context, db *sqlx.DB, feedID int64) (int, error) {
	var count int
	err := db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM articles WHERE feed_id = ? AND unread = 1", feedID)
	if err != nil {
		return 0, fmt.Errorf("count unread articles for feed %d: %w", feedID, err)
	}
	return count, nil
}

// SetUnread updates an article's unread flag and reports whether anything
// changed.
func SetUnread(ctx context.Context, db *sqlx.DB, feedID int64, identifier string, unread bool) (bool, error) {
	res, err := db.ExecContext(ctx, `
UPDATE articles SET unread = ?
WHERE feed_id = ? AND identifier = ? AND unread != ?
`, unread, feedID, identifier, unread)
	if err != nil {
		return false, fmt.Errorf("set unread for article %q of feed %d: %w", identifier, feedID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("count unread updates for feed %d: %w", feedID, err)
	}
	return affected > 0, nil
}

// ToggleFlag inverts an article's star marker.
func ToggleFlag(ctx context.Context, db *sqlx.DB, feedID int64, identifier string) error {
	res, err := db.ExecContext(ctx, `
UPDATE articles SET flag = 1 - flag
WHERE feed_id = ? AND identifier = ?
`, feedID, identifier)
	if err != nil {
		return fmt.Errorf("toggle flag for article %q of feed %d: %w", identifier, feedID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count flag updates for feed %d: %w", feedID, err)
	}
	if affected == 0 {
		return fmt.Errorf("article %q of feed %d: %w", identifier, feedID, sql.ErrNoRows)
	}
	return nil
}

func rollbackTx(tx *sqlx.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("tx rollback failed", "err", err)
	}
}
