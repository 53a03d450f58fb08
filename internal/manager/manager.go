// Package manager orchestrates the feed tree, refresh scheduler, fetch
// worker and article store, and publishes change notifications for the UI
// layer.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"tidings/internal/analyzer"
	"tidings/internal/config"
	"tidings/internal/model"
	"tidings/internal/schedule"
	"tidings/internal/store"
	"tidings/internal/tree"
	"tidings/internal/worker"
)

// EventKind enumerates the notifications the manager publishes.
type EventKind int

const (
	// EventFeedsChanged is coarse: any feed tree view should re-render.
	EventFeedsChanged EventKind = iota
	EventNewArticle
	EventArticleUpdated
	EventFeedError
)

// Event is delivered on the Events channel. The UI layer drains the channel
// on its own thread; the manager never calls into it synchronously.
type Event struct {
	Kind    EventKind
	FeedID  int64
	Article *model.Article
	Err     error
}

var ErrAlreadySubscribed = errors.New("feed is already subscribed")

// Manager is safe for concurrent use: one mutex serializes the feed tree
// and all orchestration state between the UI-facing methods and the worker
// result handler.
type Manager struct {
	cfg      *config.Config
	db       *sqlx.DB
	registry *analyzer.Registry
	sched    *schedule.Scheduler
	worker   *worker.Worker

	mu   sync.Mutex
	tree *tree.Tree

	events chan Event
	now    func() time.Time
}

// New wires a manager from its collaborators. Feeds with a custom refresh
// rate are seeded into the scheduler immediately, and each feed's cached
// unread count is restored from the store so the counts survive a restart.
func New(cfg *config.Config, db *sqlx.DB, t *tree.Tree, registry *analyzer.Registry) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		registry: registry,
		sched:    schedule.New(cfg.DefaultRefreshInterval),
		worker:   worker.New(registry, cfg.InterFetchDelay),
		tree:     t,
		events:   make(chan Event, 128),
		now:      time.Now,
	}

	ctx := context.Background()
	for _, feed := range t.AllFeeds() {
		count, err := store.CountUnread(ctx, db, feed.ID)
		if err != nil {
			slog.Warn("restore unread count failed", "feed_id", feed.ID, "err", err)
		} else {
			feed.UnreadCount = count
		}

		if feed.RefreshRate != nil && *feed.RefreshRate > 0 {
			m.sched.SetFeedRate(feed.ID, *feed.RefreshRate)
		}
	}

	return m
}

// Events returns the notification channel. It is closed after Run returns.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		// The feeds-changed notification is re-emitted on the next change
		// anyway; dropping under backpressure is preferable to blocking the
		// result handler.
		slog.Warn("event dropped", "kind", ev.Kind, "feed_id", ev.FeedID)
	}
}

// Run starts the scheduler and worker loops and applies worker results
// until ctx is cancelled. On return both loops have stopped and the feed
// tree has been flushed to disk; the caller still owns the database handle.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.sched.Run(ctx, m.dispatch)
	}()
	go func() {
		defer wg.Done()
		m.worker.Run(ctx)
	}()

	if m.cfg.UpdateOnStartup {
		m.RefreshAll()
	}

	// The results channel closes when the worker loop exits, so this loop
	// doubles as the join point for in-flight fetches.
	for result := range m.worker.Results() {
		m.handleResult(result)
	}

	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		return fmt.Errorf("save feed tree on shutdown: %w", err)
	}
	close(m.events)
	return nil
}

// dispatch converts a due schedule subject into fetch queue entries. The
// default bucket fans out to every feed without a custom rate.
func (m *Manager) dispatch(feedID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if feedID == schedule.DefaultBucket {
		var reqs []worker.FetchRequest
		for _, feed := range m.tree.AllFeeds() {
			if feed.RefreshRate == nil {
				reqs = append(reqs, fetchRequest(feed))
			}
		}
		m.worker.Enqueue(reqs...)
		return
	}

	feed, ok := m.tree.Feed(feedID)
	if !ok {
		// Deleted while its entry was in flight; RemoveFeed already ran, so
		// nothing to reschedule either.
		return
	}
	m.worker.Enqueue(fetchRequest(feed))
}

func fetchRequest(feed *model.Feed) worker.FetchRequest {
	return worker.FetchRequest{FeedID: feed.ID, Locator: feed.URI, Tag: feed.Analyzer}
}

// handleResult applies one completed fetch: merge metadata, reconcile
// articles, persist the tree, notify.
func (m *Manager) handleResult(result worker.Result) {
	if result.Err != nil {
		m.publish(Event{Kind: EventFeedError, FeedID: result.FeedID, Err: result.Err})
		return
	}

	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	feed, ok := m.tree.Feed(result.FeedID)
	if !ok {
		// Deleted while the fetch was in flight; discard silently so the
		// completion cannot resurrect the feed or its schedule entry.
		return
	}

	mergeMeta(feed, result.Meta)

	if err := m.reconcile(ctx, feed, result.Articles); err != nil {
		slog.Error("reconcile failed", "feed_id", feed.ID, "err", err)
		m.publish(Event{Kind: EventFeedError, FeedID: feed.ID, Err: err})
		return
	}

	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		slog.Error("save feed tree failed", "feed_id", feed.ID, "err", err)
	}
	m.publish(Event{Kind: EventFeedsChanged})
}

func mergeMeta(feed *model.Feed, meta model.FeedMeta) {
	if strings.TrimSpace(meta.Title) != "" {
		feed.Title = meta.Title
	}
	if strings.TrimSpace(meta.Author) != "" {
		feed.Author = meta.Author
	}
	if !meta.Updated.IsZero() {
		feed.Updated = meta.Updated
	}
}

// AddFeed verifies the locator with a synchronous fetch, inserts the feed
// under folder and seeds its articles. The fetch doubles as validation: a
// URL that does not parse as a feed never results in a partial feed.
func (m *Manager) AddFeed(ctx context.Context, locator string, folder int64, tag string) (*model.Feed, error) {
	normalized, err := analyzer.NormalizeLocator(locator)
	if err != nil {
		return nil, err
	}

	a, err := m.registry.Lookup(tag)
	if err != nil {
		return nil, err
	}

	meta, articles, err := a.Fetch(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("verify feed %s: %w", normalized, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tree.FeedByURI(normalized); exists {
		return nil, ErrAlreadySubscribed
	}

	feed := &model.Feed{
		URI:      normalized,
		Analyzer: tag,
	}
	mergeMeta(feed, meta)
	if strings.TrimSpace(feed.Title) == "" {
		feed.Title = normalized
	}

	if _, err := m.tree.AddFeed(folder, feed); err != nil {
		return nil, err
	}

	// A failure past this point must not leave a partial feed behind.
	if err := m.reconcile(ctx, feed, articles); err != nil {
		m.removeFailedAddLocked(ctx, feed.ID)
		return nil, err
	}

	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		m.removeFailedAddLocked(ctx, feed.ID)
		return nil, err
	}
	m.publish(Event{Kind: EventFeedsChanged})

	slog.Info("feed added", "feed_id", feed.ID, "feed_url", feed.URI, "title", feed.Title)
	return feed, nil
}

// removeFailedAddLocked unwinds a half-finished AddFeed: the tree node and
// any articles the seed reconcile already stored. Callers hold m.mu.
func (m *Manager) removeFailedAddLocked(ctx context.Context, feedID int64) {
	if _, err := m.tree.Remove(feedID); err != nil {
		slog.Warn("unwind failed feed add", "feed_id", feedID, "err", err)
	}
	if err := store.DeleteFeedArticles(ctx, m.db, feedID); err != nil {
		slog.Warn("unwind failed feed add", "feed_id", feedID, "err", err)
	}
}

// DeleteFeed removes the feed's schedule entry, its stored articles and its
// tree node.
func (m *Manager) DeleteFeed(ctx context.Context, feedID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tree.Feed(feedID); !ok {
		return fmt.Errorf("feed %d: %w", feedID, tree.ErrNotFound)
	}

	m.sched.RemoveFeed(feedID)

	if err := store.DeleteFeedArticles(ctx, m.db, feedID); err != nil {
		return err
	}
	if _, err := m.tree.Remove(feedID); err != nil {
		return err
	}

	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		return err
	}
	m.publish(Event{Kind: EventFeedsChanged})

	slog.Info("feed deleted", "feed_id", feedID)
	return nil
}

// AddFolder creates a folder under parent.
func (m *Manager) AddFolder(parent int64, title string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.tree.AddFolder(parent, title)
	if err != nil {
		return 0, err
	}
	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		return 0, err
	}
	m.publish(Event{Kind: EventFeedsChanged})
	return id, nil
}

// RenameFolder changes a folder's title.
func (m *Manager) RenameFolder(folderID int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tree.Rename(folderID, title); err != nil {
		return err
	}
	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		return err
	}
	m.publish(Event{Kind: EventFeedsChanged})
	return nil
}

// DeleteFolder removes a folder and cascades over every feed below it:
// schedule entries first, then stored articles, then the subtree itself.
func (m *Manager) DeleteFolder(ctx context.Context, folderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tree.IsFolder(folderID) {
		return fmt.Errorf("folder %d: %w", folderID, tree.ErrNotFound)
	}

	removed, err := m.tree.Remove(folderID)
	if err != nil {
		return err
	}
	for _, feed := range removed {
		m.sched.RemoveFeed(feed.ID)
		if err := store.DeleteFeedArticles(ctx, m.db, feed.ID); err != nil {
			return err
		}
	}

	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		return err
	}
	m.publish(Event{Kind: EventFeedsChanged})

	slog.Info("folder deleted", "folder_id", folderID, "feeds_removed", len(removed))
	return nil
}

// RefreshAll enqueues every feed in the tree ahead of any scheduled work.
func (m *Manager) RefreshAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueSubtreeLocked(m.tree.Root())
}

// RefreshFolder enqueues every feed under a folder.
func (m *Manager) RefreshFolder(folderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tree.IsFolder(folderID) {
		return fmt.Errorf("folder %d: %w", folderID, tree.ErrNotFound)
	}
	m.enqueueSubtreeLocked(folderID)
	return nil
}

// RefreshFeed enqueues a single feed for an immediate refresh.
func (m *Manager) RefreshFeed(feedID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	feed, ok := m.tree.Feed(feedID)
	if !ok {
		return fmt.Errorf("feed %d: %w", feedID, tree.ErrNotFound)
	}
	m.worker.Enqueue(fetchRequest(feed))
	return nil
}

func (m *Manager) enqueueSubtreeLocked(id int64) {
	feeds := m.tree.FeedsUnder(id)
	reqs := make([]worker.FetchRequest, 0, len(feeds))
	for _, feed := range feeds {
		reqs = append(reqs, fetchRequest(feed))
	}
	m.worker.Enqueue(reqs...)
}

// SetArticleUnreadStatus updates an article's unread flag. A no-op change
// produces no store write and no notification. The feed's cached unread
// count is recomputed from a full count query.
func (m *Manager) SetArticleUnreadStatus(ctx context.Context, feedID int64, identifier string, unread bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	feed, ok := m.tree.Feed(feedID)
	if !ok {
		return fmt.Errorf("feed %d: %w", feedID, tree.ErrNotFound)
	}

	changed, err := store.SetUnread(ctx, m.db, feedID, identifier, unread)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	count, err := store.CountUnread(ctx, m.db, feedID)
	if err != nil {
		return err
	}
	feed.UnreadCount = count
	m.publish(Event{Kind: EventFeedsChanged})
	return nil
}

// ToggleArticleFlag inverts an article's star marker.
func (m *Manager) ToggleArticleFlag(ctx context.Context, feedID int64, identifier string) error {
	return store.ToggleFlag(ctx, m.db, feedID, identifier)
}

// SetDefaultRefreshRate changes the global default bucket's period. The
// countdown restarts from now.
func (m *Manager) SetDefaultRefreshRate(rate time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.DefaultRefreshInterval = rate
	m.sched.SetGlobalRate(rate)
}

// FeedSettings carries the user-editable feed fields for UpdateFeedSettings.
type FeedSettings struct {
	CustomTitle string
	RefreshRate *time.Duration
	Retention   *time.Duration
	MuteNotify  bool
}

// UpdateFeedSettings applies user settings to a feed. A refresh rate change
// reschedules the feed atomically; setting it to nil returns the feed to
// the default bucket.
func (m *Manager) UpdateFeedSettings(feedID int64, settings FeedSettings) error {
	if settings.RefreshRate != nil && *settings.RefreshRate <= 0 {
		return fmt.Errorf("refresh rate must be positive, got %v", *settings.RefreshRate)
	}
	if settings.Retention != nil && *settings.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %v", *settings.Retention)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	feed, ok := m.tree.Feed(feedID)
	if !ok {
		return fmt.Errorf("feed %d: %w", feedID, tree.ErrNotFound)
	}

	rateChanged := !durationPtrEqual(feed.RefreshRate, settings.RefreshRate)

	feed.CustomTitle = settings.CustomTitle
	feed.RefreshRate = settings.RefreshRate
	feed.Retention = settings.Retention
	feed.MuteNotify = settings.MuteNotify

	if rateChanged {
		if feed.RefreshRate == nil {
			m.sched.SetFeedRate(feedID, 0)
		} else {
			m.sched.SetFeedRate(feedID, *feed.RefreshRate)
		}
	}

	if err := m.tree.Save(m.cfg.FeedsPath); err != nil {
		return err
	}
	m.publish(Event{Kind: EventFeedsChanged})
	return nil
}

func durationPtrEqual(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Articles lists a feed's stored articles, newest first.
func (m *Manager) Articles(ctx context.Context, feedID int64) ([]model.Article, error) {
	return store.ArticlesByFeed(ctx, m.db, feedID, 0)
}

// Feed returns the live feed for feedID.
func (m *Manager) Feed(feedID int64) (*model.Feed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Feed(feedID)
}

// Tree exposes the feed tree for read-only traversal by the view layer.
func (m *Manager) Tree() *tree.Tree {
	return m.tree
}
