package gh_test

import (
	"context"
	"strings"
	"testing"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/gh"
	"github.com/aviator-co/bifrost/internal/gh/ghtest"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/aviator-co/bifrost/internal/utils/errutils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logrus.SetLevel(logrus.DebugLevel)
}

func newClient(t *testing.T, server *ghtest.Server) *gh.Client {
	client, err := gh.NewClient(gh.ClientOpts{
		Token:  "test-token",
		APIURL: server.URL,
		Owner:  ghtest.Owner,
		Repo:   ghtest.Repo,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := gh.NewClient(gh.ClientOpts{Owner: "o", Repo: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no GitHub token provided")

	_, err = gh.NewClient(gh.ClientOpts{Token: "t"})
	require.Error(t, err)
}

func TestBranchHead(t *testing.T) {
	server := ghtest.RunServer(t)
	client := newClient(t, server)
	ctx := context.Background()

	head, err := client.BranchHead(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, server.Head("main"), head)

	// Empty branch falls back to the default branch.
	head, err = client.BranchHead(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, server.Head("main"), head)

	_, err = client.BranchHead(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrBranchNotFound), "unexpected error: %v", err)
}

func TestFileContentAndTree(t *testing.T) {
	server := ghtest.RunServer(t)
	server.Push("main", map[string]string{
		"docs/a.md":       "hello",
		"docs/guide/b.md": "world",
		"site/index.html": "<html></html>",
	})
	client := newClient(t, server)
	ctx := context.Background()

	file, err := client.FileContent(ctx, "docs/a.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "docs/a.md", file.Path)
	assert.Equal(t, "hello", file.Content)
	assert.EqualValues(t, 5, file.Size)
	assert.NotEmpty(t, file.OID)

	_, err = client.FileContent(ctx, "docs/missing.md", "main")
	assert.True(t, errors.Is(err, remote.ErrNotFound), "unexpected error: %v", err)

	_, err = client.FileContent(ctx, "docs", "main")
	require.Error(t, err, "reading a directory as a file should fail")

	entries, err := client.Tree(ctx, "docs", "main")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.md", entries[0].Name)
	assert.Equal(t, remote.TreeEntryFile, entries[0].Kind)
	require.NotNil(t, entries[0].Size)
	assert.EqualValues(t, 5, *entries[0].Size)
	assert.Equal(t, "guide", entries[1].Name)
	assert.Equal(t, "docs/guide", entries[1].Path)
	assert.Equal(t, remote.TreeEntryTree, entries[1].Kind)
	assert.Nil(t, entries[1].Size)

	root, err := client.Tree(ctx, "", "main")
	require.NoError(t, err)
	var names []string
	for _, e := range root {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"README.md", "docs", "site"}, names)
}

func TestFileContentTruncated(t *testing.T) {
	server := ghtest.RunServer(t)
	server.Push("main", map[string]string{"big.txt": strings.Repeat("x", 100)})
	server.TruncateTextAt(10)
	client := newClient(t, server)
	ctx := context.Background()

	_, err := client.FileContent(ctx, "big.txt", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	// Files under the limit are returned as usual.
	file, err := client.FileContent(ctx, "README.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "# Hello World", file.Content)
}

func TestFileContentCleansPath(t *testing.T) {
	server := ghtest.RunServer(t)
	client := newClient(t, server)

	file, err := client.FileContent(context.Background(), "/./docs/../README.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "README.md", file.Path)
	assert.Equal(t, "# Hello World", file.Content)
}

func TestCreateCommit(t *testing.T) {
	server := ghtest.RunServer(t)
	server.Push("main", map[string]string{"docs/old.md": "bye"})
	client := newClient(t, server)
	ctx := context.Background()

	head, err := client.BranchHead(ctx, "main")
	require.NoError(t, err)

	commit, err := client.CreateCommit(ctx, remote.CommitRequest{
		Branch:   "main",
		Headline: "Update docs",
		Body:     "create docs/a.md\ndelete docs/old.md",
		Additions: []remote.FileAddition{
			{Path: "docs/a.md", Content: "hello"},
		},
		Deletions:       []string{"docs/old.md"},
		ExpectedHeadOID: head,
	})
	require.NoError(t, err)
	assert.Equal(t, server.Head("main"), commit.OID)
	assert.Contains(t, commit.URL, commit.OID)
	assert.True(t, commit.Verified)

	content, ok := server.File("main", "docs/a.md")
	require.True(t, ok)
	assert.Equal(t, "hello", content)
	_, ok = server.File("main", "docs/old.md")
	assert.False(t, ok, "deleted file should be gone")
}

func TestCreateCommitStaleHead(t *testing.T) {
	server := ghtest.RunServer(t)
	client := newClient(t, server)
	ctx := context.Background()

	head, err := client.BranchHead(ctx, "main")
	require.NoError(t, err)

	// Someone else commits in between.
	newHead := server.Push("main", map[string]string{"other.md": "theirs"})

	_, err = client.CreateCommit(ctx, remote.CommitRequest{
		Branch:          "main",
		Headline:        "Mine",
		Additions:       []remote.FileAddition{{Path: "mine.md", Content: "mine"}},
		ExpectedHeadOID: head,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrConflict), "unexpected error: %v", err)
	conflict, ok := errutils.As[*remote.ConflictError](err)
	require.True(t, ok)
	assert.Equal(t, head, conflict.Expected)
	assert.Contains(t, conflict.Message, "Expected branch to point to")

	assert.Equal(t, newHead, server.Head("main"), "rejected commit must not move the branch")
	_, ok = server.File("main", "mine.md")
	assert.False(t, ok, "rejected commit must not write any file")
}

func TestCreateCommitRequiresExpectedHead(t *testing.T) {
	server := ghtest.RunServer(t)
	client := newClient(t, server)

	_, err := client.CreateCommit(context.Background(), remote.CommitRequest{
		Branch:    "main",
		Headline:  "No head",
		Additions: []remote.FileAddition{{Path: "a.md", Content: "a"}},
	})
	require.Error(t, err)
	assert.Equal(t, 0, server.Calls(ghtest.CallCommit))
}

func TestUnknownRepository(t *testing.T) {
	server := ghtest.RunServer(t)
	client, err := gh.NewClient(gh.ClientOpts{
		Token:  "test-token",
		APIURL: server.URL,
		Owner:  "someone-else",
		Repo:   "nope",
	})
	require.NoError(t, err)

	_, err = client.FileContent(context.Background(), "README.md", "main")
	assert.True(t, errors.Is(err, remote.ErrNotFound), "unexpected error: %v", err)
}

func TestIsStaleHead(t *testing.T) {
	assert.True(t, gh.IsStaleHead(errors.New(`Expected branch to point to "abc" but it did not. Pull and try again.`)))
	assert.False(t, gh.IsStaleHead(errors.New("non-200 OK status code: 502 Bad Gateway")))
	assert.True(t, gh.IsHTTPUnauthorized(errors.New("non-200 OK status code: 401 Unauthorized body: \"\"")))
}
