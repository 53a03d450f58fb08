// Package model holds the value types shared by the feed core.
package model

import (
	"strings"
	"time"
)

// Feed is one subscribed source. The tree node that owns it carries its
// position; the feed itself only knows its own identity and settings.
type Feed struct {
	ID          int64
	URI         string
	Analyzer    string
	Title       string
	CustomTitle string
	Author      string
	Updated     time.Time

	// RefreshRate is the per-feed refresh interval. nil means the feed
	// belongs to the global default bucket.
	RefreshRate *time.Duration

	// Retention is the per-feed article retention window. nil falls back to
	// the global default; zero keeps articles forever.
	Retention *time.Duration

	MuteNotify  bool
	UnreadCount int
}

// DisplayTitle returns the user-assigned title when set, otherwise the
// upstream one.
func (f *Feed) DisplayTitle() string {
	if strings.TrimSpace(f.CustomTitle) != "" {
		return f.CustomTitle
	}
	return f.Title
}

// FeedMeta is the mutable feed metadata an analyzer reports on every fetch.
type FeedMeta struct {
	Title   string
	Author  string
	URI     string
	Updated time.Time
}

// Article is one entry from a feed. Identifier is stable within a feed but
// not globally; (FeedID, Identifier) is the store key.
type Article struct {
	FeedID     int64
	Identifier string
	URI        string
	Title      string
	Updated    time.Time
	Author     string
	Content    string
	Unread     bool
	Flag       bool
}
