package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SlyMarbo/rss"

	"tidings/internal/model"
)

// SlyMarboAnalyzer wraps the SlyMarbo/rss parser. It is registered under the
// "rss-lite" tag for feeds that trip up gofeed's stricter extensions
// handling.
type SlyMarboAnalyzer struct {
	client *http.Client
	now    func() time.Time
}

func NewSlyMarbo(timeout time.Duration) *SlyMarboAnalyzer {
	return &SlyMarboAnalyzer{
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Fetch runs the library's own fetcher in a goroutine because it does not
// accept a context; the select below abandons it on cancellation.
func (s *SlyMarboAnalyzer) Fetch(ctx context.Context, locator string) (model.FeedMeta, []model.Article, error) {
	type result struct {
		feed *rss.Feed
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		feed, err := rss.FetchByClient(locator, s.client)
		resultCh <- result{feed: feed, err: err}
	}()

	select {
	case <-ctx.Done():
		return model.FeedMeta{}, nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return model.FeedMeta{}, nil, fmt.Errorf("fetch feed: %w", res.err)
		}
		return s.convert(res.feed)
	}
}

func (s *SlyMarboAnalyzer) convert(feed *rss.Feed) (model.FeedMeta, []model.Article, error) {
	fetchedAt := s.now().UTC()

	meta := model.FeedMeta{
		Title:   strings.TrimSpace(feed.Title),
		URI:     strings.TrimSpace(feed.Link),
		Updated: fetchedAt,
	}

	articles := make([]model.Article, 0, len(feed.Items))
	for idx, item := range feed.Items {
		// Zero stays zero for date-less items; reconciliation handles it.
		var updated time.Time
		if !item.Date.IsZero() {
			updated = item.Date.UTC()
		}

		identifier := strings.TrimSpace(item.ID)
		if identifier == "" {
			identifier = strings.TrimSpace(item.Link)
		}
		if identifier == "" {
			identifier = fmt.Sprintf("item-%d", idx)
		}

		content := strings.TrimSpace(item.Content)
		if content == "" {
			content = strings.TrimSpace(item.Summary)
		}

		articles = append(articles, model.Article{
			Identifier: identifier,
			URI:        strings.TrimSpace(item.Link),
			Title:      strings.TrimSpace(item.Title),
			Updated:    updated,
			Content:    content,
		})
	}
	return meta, articles, nil
}
