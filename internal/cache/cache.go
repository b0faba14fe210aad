// Package cache implements a read-through cache of repository content keyed
// by (branch, path).
//
// Entries expire lazily: an entry older than its time-to-live is treated as a
// miss when it is read. PurgeExpired can be used to drop stale entries eagerly
// but correctness never depends on it.
package cache

import (
	"path"
	"time"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

type Opts struct {
	// Size is the maximum number of entries of each kind (files and trees).
	Size int
	TTL  time.Duration
	// DefaultBranch is used for keys when no branch is given.
	DefaultBranch string
	Now           func() time.Time
}

type key struct {
	Branch string
	Path   string
}

type entry[T any] struct {
	value    T
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[T]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storedAt) >= e.ttl
}

// Cache is safe for concurrent use.
type Cache struct {
	files         *lru.Cache[key, entry[remote.FileContent]]
	trees         *lru.Cache[key, entry[[]remote.TreeEntry]]
	ttl           time.Duration
	defaultBranch string
	now           func() time.Time
}

func New(opts Opts) (*Cache, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	files, err := lru.New[key, entry[remote.FileContent]](opts.Size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file cache")
	}
	trees, err := lru.New[key, entry[[]remote.TreeEntry]](opts.Size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create tree cache")
	}
	return &Cache{
		files:         files,
		trees:         trees,
		ttl:           opts.TTL,
		defaultBranch: opts.DefaultBranch,
		now:           opts.Now,
	}, nil
}

func (c *Cache) key(p, branch string) key {
	if branch == "" {
		branch = c.defaultBranch
	}
	return key{Branch: branch, Path: remote.CleanPath(p)}
}

func (c *Cache) GetFile(p, branch string) (remote.FileContent, bool) {
	k := c.key(p, branch)
	e, ok := c.files.Get(k)
	if !ok {
		return remote.FileContent{}, false
	}
	if e.expired(c.now()) {
		c.files.Remove(k)
		return remote.FileContent{}, false
	}
	return e.value, true
}

func (c *Cache) SetFile(file remote.FileContent, branch string) {
	c.files.Add(c.key(file.Path, branch), entry[remote.FileContent]{
		value:    file,
		storedAt: c.now(),
		ttl:      c.ttl,
	})
}

func (c *Cache) InvalidateFile(p, branch string) {
	c.files.Remove(c.key(p, branch))
}

func (c *Cache) GetTree(p, branch string) ([]remote.TreeEntry, bool) {
	k := c.key(p, branch)
	e, ok := c.trees.Get(k)
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.trees.Remove(k)
		return nil, false
	}
	return copyEntries(e.value), true
}

func (c *Cache) SetTree(p string, entries []remote.TreeEntry, branch string) {
	c.trees.Add(c.key(p, branch), entry[[]remote.TreeEntry]{
		value:    copyEntries(entries),
		storedAt: c.now(),
		ttl:      c.ttl,
	})
}

func (c *Cache) InvalidateTree(p, branch string) {
	c.trees.Remove(c.key(p, branch))
}

// InvalidatePaths drops the cached content of every given path and the
// cached listing of every directory that contains one of them (up to and
// including the repository root).
func (c *Cache) InvalidatePaths(branch string, paths []string) {
	for _, p := range paths {
		p = remote.CleanPath(p)
		c.InvalidateFile(p, branch)
		c.InvalidateTree(p, branch)
		for dir := parentDir(p); ; dir = parentDir(dir) {
			c.InvalidateTree(dir, branch)
			if dir == "" {
				break
			}
		}
	}
}

// PurgeExpired removes every expired entry and returns how many were
// removed.
func (c *Cache) PurgeExpired() int {
	now := c.now()
	removed := 0
	for _, k := range c.files.Keys() {
		if e, ok := c.files.Peek(k); ok && e.expired(now) {
			if c.files.Remove(k) {
				removed++
			}
		}
	}
	for _, k := range c.trees.Keys() {
		if e, ok := c.trees.Peek(k); ok && e.expired(now) {
			if c.trees.Remove(k) {
				removed++
			}
		}
	}
	return removed
}

// Len returns the number of entries (including expired ones that have not
// been purged yet).
func (c *Cache) Len() int {
	return c.files.Len() + c.trees.Len()
}

func parentDir(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func copyEntries(entries []remote.TreeEntry) []remote.TreeEntry {
	if entries == nil {
		return nil
	}
	c := make([]remote.TreeEntry, len(entries))
	copy(c, entries)
	return c
}
