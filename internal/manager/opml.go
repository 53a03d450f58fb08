package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"tidings/internal/model"
	"tidings/internal/opml"
)

// ImportOPML subscribes to every feed in an OPML document, recreating its
// folder structure under parent. Feeds already subscribed are skipped, and
// a feed that fails verification is logged and skipped so one dead URL does
// not abort the rest of the import. Returns the number of feeds added.
func (m *Manager) ImportOPML(ctx context.Context, r io.Reader, parent int64) (int, error) {
	outlines, err := opml.Parse(r)
	if err != nil {
		return 0, err
	}
	return m.importOutlines(ctx, outlines, parent)
}

func (m *Manager) importOutlines(ctx context.Context, outlines []opml.Outline, parent int64) (int, error) {
	added := 0
	for _, outline := range outlines {
		if outline.IsFeed() {
			if _, err := m.AddFeed(ctx, outline.URL, parent, "rss"); err != nil {
				if errors.Is(err, ErrAlreadySubscribed) {
					continue
				}
				slog.Warn("opml import skipped feed", "feed_url", outline.URL, "err", err)
				continue
			}
			added++
			continue
		}

		folderID, err := m.AddFolder(parent, outline.Title)
		if err != nil {
			return added, err
		}
		n, err := m.importOutlines(ctx, outline.Children, folderID)
		added += n
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

// ExportOPML writes the entire feed tree as an OPML document.
func (m *Manager) ExportOPML(w io.Writer, title string) error {
	m.mu.Lock()
	outlines := m.exportChildren(m.tree.Root())
	m.mu.Unlock()

	return opml.Write(w, title, outlines)
}

func (m *Manager) exportChildren(folderID int64) []opml.Outline {
	var outlines []opml.Outline
	for _, child := range m.tree.Children(folderID) {
		if feed, ok := m.tree.Feed(child); ok {
			outlines = append(outlines, feedOutline(feed))
			continue
		}
		outlines = append(outlines, opml.Outline{
			Title:    m.tree.FolderTitle(child),
			Children: m.exportChildren(child),
		})
	}
	return outlines
}

func feedOutline(feed *model.Feed) opml.Outline {
	return opml.Outline{Title: feed.DisplayTitle(), URL: feed.URI}
}
