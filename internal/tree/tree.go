// Package tree maintains the folder/feed hierarchy as an arena of nodes.
//
// Nodes reference each other by integer handle rather than by pointer, so
// parent links can never form a cycle that survives serialization: the file
// format only nests children and parents are rebuilt on load.
package tree

import (
	"errors"
	"fmt"

	"github.com/tomakado/containers/set"

	"tidings/internal/model"
)

// Handles are int64 so feed node handles double as feed IDs in the article
// store. Handle 0 is never allocated; the scheduler uses it as its default
// bucket sentinel.
const invalidID int64 = 0

var (
	ErrNotFound  = errors.New("tree: node not found")
	ErrNotFolder = errors.New("tree: node is not a folder")
	ErrIsRoot    = errors.New("tree: root cannot be removed")
)

type node struct {
	id       int64
	parent   int64
	title    string
	children []int64
	feed     *model.Feed
}

// Tree is not safe for concurrent use; the manager serializes access.
type Tree struct {
	nodes  map[int64]*node
	root   int64
	nextID int64
}

// New returns a tree holding only the implicit root folder.
func New() *Tree {
	t := &Tree{
		nodes:  make(map[int64]*node),
		nextID: 1,
	}
	t.root = t.allocate()
	t.nodes[t.root] = &node{id: t.root, parent: invalidID, title: "root"}
	return t
}

func (t *Tree) allocate() int64 {
	id := t.nextID
	t.nextID++
	return id
}

// Root returns the handle of the implicit root folder.
func (t *Tree) Root() int64 {
	return t.root
}

func (t *Tree) folder(id int64) (*node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if n.feed != nil {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFolder)
	}
	return n, nil
}

// AddFolder creates a named folder under parent and returns its handle.
func (t *Tree) AddFolder(parent int64, title string) (int64, error) {
	p, err := t.folder(parent)
	if err != nil {
		return invalidID, err
	}

	id := t.allocate()
	t.nodes[id] = &node{id: id, parent: parent, title: title}
	p.children = append(p.children, id)
	return id, nil
}

// AddFeed places feed under parent, assigning it a fresh ID. The assigned ID
// is written back into feed and returned.
func (t *Tree) AddFeed(parent int64, feed *model.Feed) (int64, error) {
	p, err := t.folder(parent)
	if err != nil {
		return invalidID, err
	}

	id := t.allocate()
	feed.ID = id
	t.nodes[id] = &node{id: id, parent: parent, feed: feed}
	p.children = append(p.children, id)
	return id, nil
}

// Rename changes a folder's title.
func (t *Tree) Rename(id int64, title string) error {
	n, err := t.folder(id)
	if err != nil {
		return err
	}
	if n.id == t.root {
		return ErrIsRoot
	}
	n.title = title
	return nil
}

// Remove deletes the node and everything under it, returning the feeds that
// were removed so the caller can drop their schedule entries and articles.
func (t *Tree) Remove(id int64) ([]*model.Feed, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if id == t.root {
		return nil, ErrIsRoot
	}

	removed := t.FeedsUnder(id)
	t.deleteSubtree(id)

	parent := t.nodes[n.parent]
	for i, child := range parent.children {
		if child == id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}

	return removed, nil
}

func (t *Tree) deleteSubtree(id int64) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, child := range n.children {
		t.deleteSubtree(child)
	}
	delete(t.nodes, id)
}

// Feed returns the feed stored at handle id.
func (t *Tree) Feed(id int64) (*model.Feed, bool) {
	n, ok := t.nodes[id]
	if !ok || n.feed == nil {
		return nil, false
	}
	return n.feed, true
}

// FeedByURI returns the first feed subscribed at uri.
func (t *Tree) FeedByURI(uri string) (*model.Feed, bool) {
	for _, feed := range t.FeedsUnder(t.root) {
		if feed.URI == uri {
			return feed, true
		}
	}
	return nil, false
}

// IsFolder reports whether id names an existing folder.
func (t *Tree) IsFolder(id int64) bool {
	n, ok := t.nodes[id]
	return ok && n.feed == nil
}

// FolderTitle returns the title of a folder node, or "" if id is not one.
func (t *Tree) FolderTitle(id int64) string {
	n, ok := t.nodes[id]
	if !ok || n.feed != nil {
		return ""
	}
	return n.title
}

// Children returns the ordered child handles of a folder.
func (t *Tree) Children(id int64) []int64 {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]int64, len(n.children))
	copy(out, n.children)
	return out
}

// FeedsUnder collects every feed at or below id, depth first. Passing a feed
// handle yields just that feed.
func (t *Tree) FeedsUnder(id int64) []*model.Feed {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	if n.feed != nil {
		return []*model.Feed{n.feed}
	}

	var feeds []*model.Feed
	for _, child := range n.children {
		feeds = append(feeds, t.FeedsUnder(child)...)
	}
	return feeds
}

// AllFeeds returns every feed in the tree.
func (t *Tree) AllFeeds() []*model.Feed {
	return t.FeedsUnder(t.root)
}

// Validate checks the structural invariants: every child's parent pointer
// agrees with its parent's child list, and no node is reachable twice.
func (t *Tree) Validate() error {
	seen := set.New[int64]()
	reached := 0

	var walk func(id int64) error
	walk = func(id int64) error {
		if seen.Contains(id) {
			return fmt.Errorf("node %d reachable twice", id)
		}
		seen.Add(id)
		reached++

		n, ok := t.nodes[id]
		if !ok {
			return fmt.Errorf("dangling child handle %d", id)
		}
		for _, child := range n.children {
			c, ok := t.nodes[child]
			if !ok {
				return fmt.Errorf("folder %d references missing child %d", id, child)
			}
			if c.parent != id {
				return fmt.Errorf("node %d parent is %d, expected %d", child, c.parent, id)
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(t.root); err != nil {
		return err
	}

	if reached != len(t.nodes) {
		return fmt.Errorf("%d nodes allocated but %d reachable from root", len(t.nodes), reached)
	}
	return nil
}
