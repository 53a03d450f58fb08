// Tidings is a feed reader core: it schedules feed refreshes, fetches and
// parses feed documents in the background, and reconciles articles into a
// local SQLite store. A UI layer drives it through the manager API and
// renders the events it publishes; this binary runs the core headless with
// a logging event consumer in the UI's place.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tidings/internal/analyzer"
	"tidings/internal/config"
	"tidings/internal/manager"
	"tidings/internal/store"
	"tidings/internal/tree"
)

const settingsPath = "settings.json"

func main() {
	setupLogging()

	cfg, err := config.Load(settingsPath, "config.hcl")
	if err != nil {
		log.Fatal(err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := store.Init(db); err != nil {
		log.Fatal(err)
	}

	feeds, err := tree.Load(cfg.FeedsPath)
	if err != nil {
		log.Fatal(err)
	}

	registry := analyzer.NewRegistry()
	gf := analyzer.NewGofeed(cfg.FetchTimeout)
	registry.Register("rss", gf)
	registry.Register("atom", gf)
	registry.Register("rss-lite", analyzer.NewSlyMarbo(cfg.FetchTimeout))

	mgr := manager.New(cfg, db, feeds, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go consumeEvents(mgr)

	slog.Info("tidings running",
		"feeds", len(feeds.AllFeeds()),
		"analyzers", registry.Tags(),
		"default_refresh", cfg.DefaultRefreshInterval,
		"default_retention", cfg.DefaultRetention,
	)

	if err := mgr.Run(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	if err := cfg.Save(settingsPath); err != nil {
		slog.Error("save settings failed", "err", err)
	}
}

// consumeEvents stands in for the UI thread's event queue.
func consumeEvents(mgr *manager.Manager) {
	for ev := range mgr.Events() {
		switch ev.Kind {
		case manager.EventNewArticle:
			slog.Info("new article", "feed_id", ev.FeedID, "title", ev.Article.Title)
		case manager.EventArticleUpdated:
			slog.Info("article updated", "feed_id", ev.FeedID, "title", ev.Article.Title)
		case manager.EventFeedError:
			slog.Warn("feed error", "feed_id", ev.FeedID, "err", ev.Err)
		case manager.EventFeedsChanged:
			// Coarse re-render signal; nothing to do headless.
		}
	}
}

func setupLogging() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}
