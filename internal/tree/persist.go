package tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"tidings/internal/model"
)

// File format: the root's children as nested records. Parents are never
// written; they are reconstructed on load. next_id is persisted so feed IDs
// stay unique across deletes.
type treeFile struct {
	NextID   int64      `json:"next_id"`
	Children []nodeFile `json:"children"`
}

type nodeFile struct {
	Kind     string     `json:"kind"`
	Title    string     `json:"title,omitempty"`
	Children []nodeFile `json:"children,omitempty"`
	Feed     *feedFile  `json:"feed,omitempty"`
}

type feedFile struct {
	ID               int64     `json:"id"`
	URI              string    `json:"uri"`
	Analyzer         string    `json:"analyzer"`
	Title            string    `json:"title"`
	CustomTitle      string    `json:"custom_title,omitempty"`
	Author           string    `json:"author,omitempty"`
	Updated          time.Time `json:"updated"`
	RefreshRateSecs  *int64    `json:"refresh_rate_seconds,omitempty"`
	RetentionMinutes *int64    `json:"retention_minutes,omitempty"`
	MuteNotify       bool      `json:"mute_notify,omitempty"`
}

const (
	kindFolder = "folder"
	kindFeed   = "feed"
)

// Load reads the tree from path. A missing file yields an empty tree, same
// as first launch.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read feed tree: %w", err)
	}

	var file treeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode feed tree: %w", err)
	}

	t := New()
	for _, child := range file.Children {
		if err := t.attach(t.root, child); err != nil {
			return nil, err
		}
	}

	if file.NextID > t.nextID {
		t.nextID = file.NextID
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("loaded feed tree is inconsistent: %w", err)
	}
	return t, nil
}

func (t *Tree) attach(parent int64, file nodeFile) error {
	switch file.Kind {
	case kindFolder:
		id, err := t.AddFolder(parent, file.Title)
		if err != nil {
			return err
		}
		for _, child := range file.Children {
			if err := t.attach(id, child); err != nil {
				return err
			}
		}
		return nil

	case kindFeed:
		if file.Feed == nil {
			return errors.New("feed node without feed record")
		}
		feed := fileToFeed(file.Feed)

		p, err := t.folder(parent)
		if err != nil {
			return err
		}
		if _, exists := t.nodes[feed.ID]; exists {
			return fmt.Errorf("duplicate feed id %d", feed.ID)
		}
		t.nodes[feed.ID] = &node{id: feed.ID, parent: parent, feed: feed}
		p.children = append(p.children, feed.ID)
		if feed.ID >= t.nextID {
			t.nextID = feed.ID + 1
		}
		return nil

	default:
		return fmt.Errorf("unknown node kind %q", file.Kind)
	}
}

// Save writes the tree to path atomically (temp file + rename).
func (t *Tree) Save(path string) error {
	file := treeFile{NextID: t.nextID}
	for _, child := range t.nodes[t.root].children {
		file.Children = append(file.Children, t.detach(child))
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode feed tree: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".feeds-*")
	if err != nil {
		return fmt.Errorf("create temp feed tree file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp feed tree file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp feed tree file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace feed tree file: %w", err)
	}
	return nil
}

func (t *Tree) detach(id int64) nodeFile {
	n := t.nodes[id]
	if n.feed != nil {
		return nodeFile{Kind: kindFeed, Feed: feedToFile(n.feed)}
	}

	out := nodeFile{Kind: kindFolder, Title: n.title}
	for _, child := range n.children {
		out.Children = append(out.Children, t.detach(child))
	}
	return out
}

func feedToFile(feed *model.Feed) *feedFile {
	out := &feedFile{
		ID:          feed.ID,
		URI:         feed.URI,
		Analyzer:    feed.Analyzer,
		Title:       feed.Title,
		CustomTitle: feed.CustomTitle,
		Author:      feed.Author,
		Updated:     feed.Updated.UTC(),
		MuteNotify:  feed.MuteNotify,
	}
	if feed.RefreshRate != nil {
		secs := int64(*feed.RefreshRate / time.Second)
		out.RefreshRateSecs = &secs
	}
	if feed.Retention != nil {
		mins := int64(*feed.Retention / time.Minute)
		out.RetentionMinutes = &mins
	}
	return out
}

func fileToFeed(file *feedFile) *model.Feed {
	feed := &model.Feed{
		ID:          file.ID,
		URI:         file.URI,
		Analyzer:    file.Analyzer,
		Title:       file.Title,
		CustomTitle: file.CustomTitle,
		Author:      file.Author,
		Updated:     file.Updated,
		MuteNotify:  file.MuteNotify,
	}
	if file.RefreshRateSecs != nil {
		rate := time.Duration(*file.RefreshRateSecs) * time.Second
		feed.RefreshRate = &rate
	}
	if file.RetentionMinutes != nil {
		retention := time.Duration(*file.RetentionMinutes) * time.Minute
		feed.Retention = &retention
	}
	return feed
}
