package gitlocal

import (
	"sort"
	"strings"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// changeSet is a set of changes relative to one directory. Nested paths are
// grouped by their first path segment.
type changeSet struct {
	additions map[string]string
	deletions map[string]bool
	subdirs   map[string]*changeSet
}

func newChangeSet() *changeSet {
	return &changeSet{
		additions: map[string]string{},
		deletions: map[string]bool{},
		subdirs:   map[string]*changeSet{},
	}
}

func (c *changeSet) sub(name string) *changeSet {
	s, ok := c.subdirs[name]
	if !ok {
		s = newChangeSet()
		c.subdirs[name] = s
	}
	return s
}

func (c *changeSet) add(p string, content string) {
	if dir, rest, ok := strings.Cut(p, "/"); ok {
		c.sub(dir).add(rest, content)
		return
	}
	c.additions[p] = content
}

func (c *changeSet) delete(p string) {
	if dir, rest, ok := strings.Cut(p, "/"); ok {
		c.sub(dir).delete(rest)
		return
	}
	c.deletions[p] = true
}

// applyChanges writes the tree that results from applying the changes to
// base (which may be nil for a directory that doesn't exist yet). It returns
// the hash of the new tree and whether the tree ended up empty.
func (r *Repo) applyChanges(base *object.Tree, changes *changeSet) (plumbing.Hash, bool, error) {
	entries := map[string]object.TreeEntry{}
	if base != nil {
		for _, e := range base.Entries {
			entries[e.Name] = e
		}
	}

	for name := range changes.deletions {
		e, ok := entries[name]
		if !ok || e.Mode == filemode.Dir {
			return plumbing.ZeroHash, false, errors.WrapIff(remote.ErrNotFound, "cannot delete %q", name)
		}
		delete(entries, name)
	}
	for name, content := range changes.additions {
		if e, ok := entries[name]; ok && e.Mode == filemode.Dir {
			return plumbing.ZeroHash, false, errors.Errorf("cannot write file %q: a directory exists at that path", name)
		}
		hash, err := r.writeBlob(content)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		entries[name] = object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: hash}
	}

	for name, sub := range changes.subdirs {
		var subBase *object.Tree
		if e, ok := entries[name]; ok {
			if e.Mode != filemode.Dir {
				return plumbing.ZeroHash, false, errors.Errorf("cannot write into %q: a file exists at that path", name)
			}
			t, err := r.repo.TreeObject(e.Hash)
			if err != nil {
				return plumbing.ZeroHash, false, errors.WrapIff(err, "failed to read tree %s", e.Hash)
			}
			subBase = t
		}
		hash, empty, err := r.applyChanges(subBase, sub)
		if err != nil {
			return plumbing.ZeroHash, false, errors.WrapIff(err, "in %s", name)
		}
		if empty {
			// Git has no empty directories.
			delete(entries, name)
		} else {
			entries[name] = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash}
		}
	}

	tree := &object.Tree{Entries: make([]object.TreeEntry, 0, len(entries))}
	for _, e := range entries {
		tree.Entries = append(tree.Entries, e)
	}
	hash, err := r.writeTree(tree)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	return hash, len(tree.Entries) == 0, nil
}

// writeTree sorts the entries in canonical git order and stores the tree.
func (r *Repo) writeTree(tree *object.Tree) (plumbing.Hash, error) {
	sort.Slice(tree.Entries, func(i, j int) bool {
		return treeSortKey(tree.Entries[i]) < treeSortKey(tree.Entries[j])
	})
	obj := r.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to encode tree")
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to write tree")
	}
	return hash, nil
}

// Git sorts directories as if their name had a trailing slash.
func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func (r *Repo) writeBlob(content string) (plumbing.Hash, error) {
	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to write blob")
	}
	if _, err := w.Write([]byte(content)); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, errors.Wrap(err, "failed to write blob")
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to write blob")
	}
	return r.repo.Storer.SetEncodedObject(obj)
}
