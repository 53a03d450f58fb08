// Package analyzer defines the pluggable fetch+parse strategy for feed
// formats and a registry mapping format tags to implementations.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"tidings/internal/model"
)

// Analyzer fetches a feed document from locator and parses it into feed
// metadata plus its articles. Implementations must be safe to call from a
// background goroutine.
type Analyzer interface {
	Fetch(ctx context.Context, locator string) (model.FeedMeta, []model.Article, error)
}

// Registry maps format tags to analyzers. It is populated once at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	byTag map[string]Analyzer
}

func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]Analyzer)}
}

// Register binds tag to a. Registering the same tag twice is a programming
// error and panics, like a duplicate flag registration would.
func (r *Registry) Register(tag string, a Analyzer) {
	if _, dup := r.byTag[tag]; dup {
		panic(fmt.Sprintf("analyzer: duplicate tag %q", tag))
	}
	r.byTag[tag] = a
}

// Lookup resolves tag to its analyzer.
func (r *Registry) Lookup(tag string) (Analyzer, error) {
	a, ok := r.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("no analyzer registered for tag %q", tag)
	}
	return a, nil
}

// Tags lists the registered format tags.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	return tags
}

// NormalizeLocator cleans up a user-entered feed URL, defaulting the scheme
// to https.
func NormalizeLocator(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("feed URL is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.ParseRequestURI(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.New("feed URL looks invalid")
	}
	return u.String(), nil
}
