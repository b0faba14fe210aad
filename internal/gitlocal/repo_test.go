package gitlocal_test

import (
	"context"
	"testing"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/gitlocal"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFiles(t *testing.T, repo *gitlocal.Repo, files map[string]string, deletions ...string) string {
	ctx := context.Background()
	head, err := repo.BranchHead(ctx, "main")
	require.NoError(t, err)
	req := remote.CommitRequest{
		Branch:          "main",
		Headline:        "test commit",
		Deletions:       deletions,
		ExpectedHeadOID: head,
	}
	for p, content := range files {
		req.Additions = append(req.Additions, remote.FileAddition{Path: p, Content: content})
	}
	commit, err := repo.CreateCommit(ctx, req)
	require.NoError(t, err)
	return commit.OID
}

func TestOpenSeedsDefaultBranch(t *testing.T) {
	repo, err := gitlocal.Open(gitlocal.Opts{})
	require.NoError(t, err)

	head, err := repo.BranchHead(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, head, 40)

	entries, err := repo.Tree(context.Background(), "", "main")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = repo.BranchHead(context.Background(), "nope")
	assert.True(t, errors.Is(err, remote.ErrBranchNotFound), "unexpected error: %v", err)
}

func TestCommitAndRead(t *testing.T) {
	repo, err := gitlocal.Open(gitlocal.Opts{})
	require.NoError(t, err)
	ctx := context.Background()

	oid := commitFiles(t, repo, map[string]string{
		"docs/a.md":       "hello",
		"docs/guide/b.md": "world",
		"README.md":       "# readme",
	})
	head, err := repo.BranchHead(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, oid, head)

	file, err := repo.FileContent(ctx, "docs/a.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "hello", file.Content)
	assert.EqualValues(t, 5, file.Size)

	entries, err := repo.Tree(ctx, "docs", "main")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.md", entries[0].Name)
	assert.Equal(t, "docs/a.md", entries[0].Path)
	assert.Equal(t, remote.TreeEntryFile, entries[0].Kind)
	require.NotNil(t, entries[0].Size)
	assert.EqualValues(t, 5, *entries[0].Size)
	assert.Equal(t, "guide", entries[1].Name)
	assert.Equal(t, remote.TreeEntryTree, entries[1].Kind)

	// Deleting the only file in a directory removes the directory.
	commitFiles(t, repo, map[string]string{"docs/a.md": "updated"}, "docs/guide/b.md")
	entries, err = repo.Tree(ctx, "docs", "main")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.md", entries[0].Name)

	file, err = repo.FileContent(ctx, "docs/a.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "updated", file.Content)

	_, err = repo.FileContent(ctx, "docs/guide/b.md", "main")
	assert.True(t, errors.Is(err, remote.ErrNotFound), "unexpected error: %v", err)
	_, err = repo.Tree(ctx, "docs/guide", "main")
	assert.True(t, errors.Is(err, remote.ErrNotFound), "unexpected error: %v", err)
}

func TestCommitRejectsStaleHead(t *testing.T) {
	repo, err := gitlocal.Open(gitlocal.Opts{})
	require.NoError(t, err)
	ctx := context.Background()

	staleHead, err := repo.BranchHead(ctx, "main")
	require.NoError(t, err)
	newHead := commitFiles(t, repo, map[string]string{"theirs.md": "theirs"})

	_, err = repo.CreateCommit(ctx, remote.CommitRequest{
		Branch:          "main",
		Headline:        "mine",
		Additions:       []remote.FileAddition{{Path: "mine.md", Content: "mine"}},
		ExpectedHeadOID: staleHead,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrConflict), "unexpected error: %v", err)

	head, err := repo.BranchHead(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, newHead, head)
	_, err = repo.FileContent(ctx, "mine.md", "main")
	assert.True(t, errors.Is(err, remote.ErrNotFound))
}

func TestCommitIsAllOrNothing(t *testing.T) {
	repo, err := gitlocal.Open(gitlocal.Opts{})
	require.NoError(t, err)
	ctx := context.Background()

	head, err := repo.BranchHead(ctx, "main")
	require.NoError(t, err)
	_, err = repo.CreateCommit(ctx, remote.CommitRequest{
		Branch:          "main",
		Headline:        "half valid",
		Additions:       []remote.FileAddition{{Path: "ok.md", Content: "ok"}},
		Deletions:       []string{"missing.md"},
		ExpectedHeadOID: head,
	})
	require.Error(t, err)

	after, err := repo.BranchHead(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, head, after, "failed commit must not move the branch")
	_, err = repo.FileContent(ctx, "ok.md", "main")
	assert.True(t, errors.Is(err, remote.ErrNotFound))
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	repo, err := gitlocal.Open(gitlocal.Opts{Path: dir, DefaultBranch: "trunk"})
	require.NoError(t, err)
	ctx := context.Background()

	head, err := repo.BranchHead(ctx, "trunk")
	require.NoError(t, err)
	commit, err := repo.CreateCommit(ctx, remote.CommitRequest{
		Branch:          "trunk",
		Headline:        "persist",
		Additions:       []remote.FileAddition{{Path: "a.txt", Content: "a"}},
		ExpectedHeadOID: head,
	})
	require.NoError(t, err)

	reopened, err := gitlocal.Open(gitlocal.Opts{Path: dir, DefaultBranch: "trunk"})
	require.NoError(t, err)
	head, err = reopened.BranchHead(ctx, "trunk")
	require.NoError(t, err)
	assert.Equal(t, commit.OID, head)
	file, err := reopened.FileContent(ctx, "a.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "a", file.Content)
}

func TestInvalidPaths(t *testing.T) {
	repo, err := gitlocal.Open(gitlocal.Opts{})
	require.NoError(t, err)
	ctx := context.Background()
	head, err := repo.BranchHead(ctx, "main")
	require.NoError(t, err)

	for _, p := range []string{"", "/", ".git/config"} {
		_, err := repo.CreateCommit(ctx, remote.CommitRequest{
			Branch:          "main",
			Headline:        "bad",
			Additions:       []remote.FileAddition{{Path: p, Content: "x"}},
			ExpectedHeadOID: head,
		})
		assert.Errorf(t, err, "path %q should be rejected", p)
	}
}
