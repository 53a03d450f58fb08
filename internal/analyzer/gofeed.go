package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"tidings/internal/model"
)

const userAgent = "Tidings/1.0"

// GofeedAnalyzer parses RSS, Atom and JSON feeds through gofeed. It is the
// default analyzer, registered under the "rss" and "atom" tags.
type GofeedAnalyzer struct {
	client *http.Client
	now    func() time.Time
}

func NewGofeed(timeout time.Duration) *GofeedAnalyzer {
	return &GofeedAnalyzer{
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (g *GofeedAnalyzer) Fetch(ctx context.Context, locator string) (model.FeedMeta, []model.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return model.FeedMeta{}, nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return model.FeedMeta{}, nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return model.FeedMeta{}, nil, fmt.Errorf("unexpected status %d from feed", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return model.FeedMeta{}, nil, fmt.Errorf("parse feed: %w", err)
	}

	fetchedAt := g.now().UTC()
	meta := model.FeedMeta{
		Title:   strings.TrimSpace(parsed.Title),
		URI:     strings.TrimSpace(parsed.Link),
		Updated: feedUpdated(parsed, fetchedAt),
	}
	if parsed.Author != nil {
		meta.Author = strings.TrimSpace(parsed.Author.Name)
	}

	articles := make([]model.Article, 0, len(parsed.Items))
	for idx, item := range parsed.Items {
		articles = append(articles, itemToArticle(item, idx))
	}
	return meta, articles, nil
}

func feedUpdated(parsed *gofeed.Feed, fallback time.Time) time.Time {
	switch {
	case parsed.UpdatedParsed != nil:
		return parsed.UpdatedParsed.UTC()
	case parsed.PublishedParsed != nil:
		return parsed.PublishedParsed.UTC()
	default:
		return fallback
	}
}

func itemToArticle(item *gofeed.Item, idx int) model.Article {
	content := strings.TrimSpace(item.Content)
	if content == "" {
		content = strings.TrimSpace(item.Description)
	}

	article := model.Article{
		Identifier: deriveIdentifier(item, idx),
		URI:        strings.TrimSpace(item.Link),
		Title:      strings.TrimSpace(item.Title),
		Updated:    itemUpdated(item),
		Content:    content,
	}
	if item.Author != nil {
		article.Author = strings.TrimSpace(item.Author.Name)
	}
	return article
}

// deriveIdentifier picks a stable per-feed identifier for an item. Feeds
// that omit GUIDs fall back through link and title before giving up and
// using the item's position, which at least stays stable between re-fetches
// of the same document.
func deriveIdentifier(item *gofeed.Item, idx int) string {
	candidates := []string{
		strings.TrimSpace(item.GUID),
		strings.TrimSpace(item.Link),
		strings.TrimSpace(item.Title),
	}
	for _, candidate := range candidates {
		if candidate != "" {
			return candidate
		}
	}
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("item-%d", idx)
}

// itemUpdated returns the item's timestamp, or the zero time when the feed
// carries no date element. Reconciliation treats a zero timestamp on a known
// article as unchanged, so a date-less feed does not rewrite its articles on
// every fetch.
func itemUpdated(item *gofeed.Item) time.Time {
	switch {
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	default:
		return time.Time{}
	}
}
