// Package bifrost is the entry point for reading and writing files in a
// remote repository. Reads go through a content cache and writes always
// carry a freshly fetched branch head as their precondition. The cache is
// brought up to date with every successful write before the write returns.
package bifrost

import (
	"context"
	"strings"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/batch"
	"github.com/aviator-co/bifrost/internal/cache"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/aviator-co/bifrost/internal/utils/sliceutils"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"
)

type Client struct {
	repo          remote.Repository
	cache         *cache.Cache
	batches       *batch.Manager
	defaultBranch string
}

type Opts struct {
	// DefaultBranch is used whenever a call doesn't name a branch.
	// Defaults to "main".
	DefaultBranch string
}

func New(repo remote.Repository, c *cache.Cache, m *batch.Manager, opts Opts) *Client {
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}
	return &Client{
		repo:          repo,
		cache:         c,
		batches:       m,
		defaultBranch: opts.DefaultBranch,
	}
}

// Batches returns the batch manager used by CommitFiles. It can be used to
// build a batch step by step.
func (c *Client) Batches() *batch.Manager {
	return c.batches
}

// Cache returns the content cache shared by every read and write.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

func (c *Client) branchOrDefault(branch string) string {
	if branch == "" {
		return c.defaultBranch
	}
	return branch
}

// Head returns the commit the branch currently points to. It is never
// cached.
func (c *Client) Head(ctx context.Context, branch string) (string, error) {
	return c.repo.BranchHead(ctx, c.branchOrDefault(branch))
}

// GetFile returns the content of a file, from the cache if a fresh entry
// exists.
func (c *Client) GetFile(ctx context.Context, path string, branch string) (*remote.FileContent, error) {
	branch = c.branchOrDefault(branch)
	path = remote.CleanPath(path)
	if file, ok := c.cache.GetFile(path, branch); ok {
		logrus.WithFields(logrus.Fields{"branch": branch, "path": path}).Debug("file cache hit")
		return &file, nil
	}
	file, err := c.repo.FileContent(ctx, path, branch)
	if err != nil {
		return nil, err
	}
	c.cache.SetFile(*file, branch)
	return file, nil
}

// GetTree lists a directory, from the cache if a fresh entry exists.
func (c *Client) GetTree(ctx context.Context, path string, branch string) ([]remote.TreeEntry, error) {
	branch = c.branchOrDefault(branch)
	path = remote.CleanPath(path)
	if entries, ok := c.cache.GetTree(path, branch); ok {
		logrus.WithFields(logrus.Fields{"branch": branch, "path": path}).Debug("tree cache hit")
		return entries, nil
	}
	entries, err := c.repo.Tree(ctx, path, branch)
	if err != nil {
		return nil, err
	}
	c.cache.SetTree(path, entries, branch)
	return entries, nil
}

// CommitFile writes a single file as one commit without going through the
// batch manager.
func (c *Client) CommitFile(ctx context.Context, branch, path, content, message string) (*remote.Commit, error) {
	path = remote.CleanPath(path)
	if path == "" {
		return nil, errors.New("file path cannot be empty")
	}
	if content == "" {
		return nil, errors.Errorf("%s: content cannot be empty (use DeleteFile to remove a file)", path)
	}
	return c.commitDirect(ctx, branch, message, []Change{{Kind: batch.OperationUpdate, Path: path, Content: content}})
}

// DeleteFile removes a single file as one commit without going through the
// batch manager.
func (c *Client) DeleteFile(ctx context.Context, branch, path, message string) (*remote.Commit, error) {
	path = remote.CleanPath(path)
	if path == "" {
		return nil, errors.New("file path cannot be empty")
	}
	return c.commitDirect(ctx, branch, message, []Change{{Kind: batch.OperationDelete, Path: path}})
}

func (c *Client) commitDirect(ctx context.Context, branch, message string, changes []Change) (*remote.Commit, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("commit message cannot be empty")
	}
	branch = c.branchOrDefault(branch)
	head, err := c.repo.BranchHead(ctx, branch)
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read head of branch %q", branch)
	}

	req := remote.CommitRequest{
		Branch:          branch,
		Headline:        message,
		ExpectedHeadOID: head,
	}
	for _, ch := range changes {
		if ch.Kind == batch.OperationDelete {
			req.Deletions = append(req.Deletions, ch.Path)
		} else {
			req.Additions = append(req.Additions, remote.FileAddition{Path: ch.Path, Content: ch.Content})
		}
	}
	commit, err := c.repo.CreateCommit(ctx, req)
	if err != nil {
		if errors.Is(err, remote.ErrConflict) {
			c.cache.InvalidatePaths(branch, changePaths(changes))
		}
		return nil, err
	}
	c.applyToCache(branch, changes)
	logrus.WithFields(logrus.Fields{
		"branch": branch,
		"commit": commit.OID,
	}).Debug("committed file")
	return commit, nil
}

// CommitFiles commits every change as one commit through the batch manager.
// The batch is rolled back if it is rejected before reaching the remote.
func (c *Client) CommitFiles(ctx context.Context, branch, message string, changes []Change) (*batch.CommitResult, error) {
	b, err := c.batches.CreateBatch(c.branchOrDefault(branch), message)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		if _, err := c.batches.AddOperation(b.ID, ch.Kind, ch.Path, ch.Content); err != nil {
			c.abandon(b.ID)
			return nil, err
		}
	}
	res, err := c.CommitBatch(ctx, b.ID)
	if errors.Is(err, batch.ErrEmptyBatch) || errors.Is(err, batch.ErrValidationFailure) {
		// Nothing was sent, so the batch is still pending.
		c.abandon(b.ID)
	}
	return res, err
}

func (c *Client) abandon(batchID string) {
	if err := c.batches.RollbackBatch(batchID); err != nil {
		logrus.WithError(err).WithField("batch", batchID).Warn("failed to roll back batch")
	}
}

// CommitBatch commits a batch built with Batches() and keeps the cache
// consistent with the result.
func (c *Client) CommitBatch(ctx context.Context, batchID string) (*batch.CommitResult, error) {
	res, err := c.batches.CommitBatch(ctx, batchID)
	b, ok := c.batches.GetBatch(batchID)
	if !ok {
		return res, err
	}
	changes := sliceutils.Map(b.Operations, func(op batch.Operation) Change {
		return Change{Kind: op.Kind, Path: op.Path, Content: op.Content}
	})
	if err != nil {
		if errors.Is(err, batch.ErrConcurrencyConflict) {
			// Someone else moved the branch, so whatever we cached for
			// these paths may be stale.
			c.cache.InvalidatePaths(b.Branch, changePaths(changes))
		}
		return nil, err
	}
	c.applyToCache(b.Branch, changes)
	return res, nil
}

func (c *Client) applyToCache(branch string, changes []Change) {
	c.cache.InvalidatePaths(branch, changePaths(changes))
	for _, ch := range changes {
		switch ch.Kind {
		case batch.OperationCreate, batch.OperationUpdate:
			c.cache.SetFile(remote.FileContent{
				Path:    ch.Path,
				Content: ch.Content,
				Size:    int64(len(ch.Content)),
				OID:     plumbing.ComputeHash(plumbing.BlobObject, []byte(ch.Content)).String(),
			}, branch)
		case batch.OperationDelete:
		default:
			panic(errors.Errorf("unknown operation kind %s", ch.Kind))
		}
	}
}

func changePaths(changes []Change) []string {
	return sliceutils.Map(changes, func(ch Change) string { return ch.Path })
}
