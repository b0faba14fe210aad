// Package gitlocal implements remote.Repository on top of a local go-git
// repository. It is used for simulation mode (commits are written to a local
// repository instead of GitHub) and in tests.
//
// The repository is always bare: commits are assembled directly from blob
// and tree objects and the branch ref is moved with a compare-and-swap, so no
// worktree is ever touched.
package gitlocal

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/sirupsen/logrus"
)

type Opts struct {
	// Path of the repository on disk. If empty, the repository lives in
	// memory and is lost when the process exits.
	Path          string
	DefaultBranch string
	AuthorName    string
	AuthorEmail   string
	// Now is used for commit timestamps. Defaults to time.Now.
	Now func() time.Time
}

type Repo struct {
	// mu serializes writers. The ref update is also a compare-and-swap, so
	// this only matters for writers within this process.
	mu            sync.Mutex
	repo          *git.Repository
	path          string
	defaultBranch string
	authorName    string
	authorEmail   string
	now           func() time.Time
}

var _ remote.Repository = &Repo{}

// Open opens (or initializes) the repository. If the default branch does not
// exist yet and the repository has no commits, an empty initial commit is
// created on it.
func Open(opts Opts) (*Repo, error) {
	r := &Repo{
		path:          opts.Path,
		defaultBranch: opts.DefaultBranch,
		authorName:    opts.AuthorName,
		authorEmail:   opts.AuthorEmail,
		now:           opts.Now,
	}
	if r.defaultBranch == "" {
		r.defaultBranch = "main"
	}
	if r.authorName == "" {
		r.authorName = "bifrost"
	}
	if r.authorEmail == "" {
		r.authorEmail = "bifrost@localhost"
	}
	if r.now == nil {
		r.now = time.Now
	}

	var storer storage.Storer
	if opts.Path == "" {
		storer = memory.NewStorage()
	} else {
		storer = filesystem.NewStorage(osfs.New(opts.Path), cache.NewObjectLRUDefault())
	}
	var err error
	r.repo, err = git.Open(storer, nil)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		// A nil worktree makes the repository bare.
		r.repo, err = git.Init(storer, nil)
	}
	if err != nil {
		return nil, errors.WrapIff(err, "failed to open local repository %q", opts.Path)
	}

	if err := r.seed(); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"path":   r.displayPath(),
		"branch": r.defaultBranch,
	}).Warn("simulation mode: commits are written to a local repository, not to GitHub")
	return r, nil
}

func (r *Repo) displayPath() string {
	if r.path == "" {
		return "<memory>"
	}
	return r.path
}

func (r *Repo) seed() error {
	refName := plumbing.NewBranchReferenceName(r.defaultBranch)
	if _, err := r.repo.Reference(refName, false); err == nil {
		return nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return errors.WrapIff(err, "failed to read branch %q", r.defaultBranch)
	}
	if _, err := r.repo.Head(); err == nil {
		// The repository has history, just not on the default branch.
		// Creating the branch is the caller's business.
		return nil
	}

	treeHash, err := r.writeTree(&object.Tree{})
	if err != nil {
		return err
	}
	commitHash, err := r.writeCommit("Initial commit", treeHash, nil)
	if err != nil {
		return err
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(refName, commitHash)); err != nil {
		return errors.WrapIff(err, "failed to create branch %q", r.defaultBranch)
	}
	return r.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, refName))
}

func (r *Repo) branchOrDefault(branch string) string {
	if branch == "" {
		return r.defaultBranch
	}
	return branch
}

func (r *Repo) branchRef(branch string) (*plumbing.Reference, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, errors.WrapIff(remote.ErrBranchNotFound, "branch %q", branch)
	}
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read branch %q", branch)
	}
	return ref, nil
}

func (r *Repo) headTree(branch string) (*object.Tree, error) {
	ref, err := r.branchRef(branch)
	if err != nil {
		return nil, err
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read commit %s", ref.Hash())
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read tree of commit %s", ref.Hash())
	}
	return tree, nil
}

func (r *Repo) BranchHead(_ context.Context, branch string) (string, error) {
	ref, err := r.branchRef(r.branchOrDefault(branch))
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func (r *Repo) FileContent(_ context.Context, p string, branch string) (*remote.FileContent, error) {
	branch = r.branchOrDefault(branch)
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	tree, err := r.headTree(branch)
	if err != nil {
		return nil, err
	}
	file, err := tree.File(p)
	if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
		return nil, errors.WrapIff(remote.ErrNotFound, "%s at branch %q", p, branch)
	}
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read %s at branch %q", p, branch)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read %s at branch %q", p, branch)
	}
	return &remote.FileContent{
		Path:    p,
		Content: content,
		Size:    file.Size,
		OID:     file.Hash.String(),
	}, nil
}

func (r *Repo) Tree(_ context.Context, p string, branch string) ([]remote.TreeEntry, error) {
	branch = r.branchOrDefault(branch)
	tree, err := r.headTree(branch)
	if err != nil {
		return nil, err
	}
	p = remote.CleanPath(p)
	if p != "" {
		if p, err = cleanPath(p); err != nil {
			return nil, err
		}
		tree, err = tree.Tree(p)
		if errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
			return nil, errors.WrapIff(remote.ErrNotFound, "directory %q at branch %q", p, branch)
		}
		if err != nil {
			return nil, errors.WrapIff(err, "failed to read directory %q at branch %q", p, branch)
		}
	}

	entries := make([]remote.TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entry := remote.TreeEntry{
			Name: e.Name,
			Path: path.Join(p, e.Name),
			OID:  e.Hash.String(),
		}
		switch e.Mode {
		case filemode.Dir:
			entry.Kind = remote.TreeEntryTree
		case filemode.Submodule:
			entry.Kind = remote.TreeEntryFile
		default:
			entry.Kind = remote.TreeEntryFile
			blob, err := r.repo.BlobObject(e.Hash)
			if err != nil {
				return nil, errors.WrapIff(err, "failed to read blob %s", e.Hash)
			}
			size := blob.Size
			entry.Size = &size
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *Repo) CreateCommit(_ context.Context, req remote.CommitRequest) (*remote.Commit, error) {
	branch := r.branchOrDefault(req.Branch)
	if req.ExpectedHeadOID == "" {
		return nil, errors.Errorf("cannot commit to branch %q without an expected head", branch)
	}

	changes := newChangeSet()
	for _, a := range req.Additions {
		p, err := cleanPath(a.Path)
		if err != nil {
			return nil, err
		}
		changes.add(p, a.Content)
	}
	for _, d := range req.Deletions {
		p, err := cleanPath(d)
		if err != nil {
			return nil, err
		}
		changes.delete(p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ref, err := r.branchRef(branch)
	if err != nil {
		return nil, err
	}
	if ref.Hash().String() != req.ExpectedHeadOID {
		return nil, &remote.ConflictError{
			Branch:   branch,
			Expected: req.ExpectedHeadOID,
			Actual:   ref.Hash().String(),
		}
	}

	parent, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read commit %s", ref.Hash())
	}
	base, err := parent.Tree()
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read tree of commit %s", ref.Hash())
	}
	treeHash, _, err := r.applyChanges(base, changes)
	if err != nil {
		return nil, err
	}

	message := req.Headline
	if req.Body != "" {
		message += "\n\n" + req.Body
	}
	commitHash, err := r.writeCommit(message, treeHash, []plumbing.Hash{ref.Hash()})
	if err != nil {
		return nil, err
	}

	newRef := plumbing.NewHashReference(ref.Name(), commitHash)
	if err := r.repo.Storer.CheckAndSetReference(newRef, ref); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return nil, &remote.ConflictError{Branch: branch, Expected: req.ExpectedHeadOID}
		}
		return nil, errors.WrapIff(err, "failed to update branch %q", branch)
	}

	logrus.WithFields(logrus.Fields{
		"branch": branch,
		"commit": commitHash.String(),
		"parent": ref.Hash().String(),
	}).Debug("created local commit")
	return &remote.Commit{
		OID: commitHash.String(),
		URL: fmt.Sprintf("file://%s#%s", r.displayPath(), commitHash),
	}, nil
}

func (r *Repo) writeCommit(message string, tree plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error) {
	sig := object.Signature{
		Name:  r.authorName,
		Email: r.authorEmail,
		When:  r.now(),
	}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to encode commit")
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to write commit")
	}
	return hash, nil
}

// cleanPath normalizes a repository-relative path and rejects paths that
// would escape the repository root.
func cleanPath(p string) (string, error) {
	cleaned := remote.CleanPath(p)
	if cleaned == "" {
		return "", errors.Errorf("invalid path %q", p)
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".git" {
			return "", errors.Errorf("invalid path %q", p)
		}
	}
	return cleaned, nil
}
