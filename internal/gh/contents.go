package gh

import (
	"context"
	"path"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/dustin/go-humanize"
	"github.com/shurcooL/githubv4"
)

// objectExpression builds a git revision expression (e.g., "main:docs/a.md")
// as accepted by the repository.object field.
func objectExpression(branch, p string) string {
	return branch + ":" + remote.CleanPath(p)
}

func (c *Client) FileContent(ctx context.Context, p string, branch string) (*remote.FileContent, error) {
	branch = c.branchOrDefault(branch)
	var query struct {
		Repository struct {
			Object *struct {
				Typename string `graphql:"__typename"`
				Blob     struct {
					Oid         githubv4.GitObjectID `graphql:"oid"`
					ByteSize    int                  `graphql:"byteSize"`
					IsBinary    *bool                `graphql:"isBinary"`
					IsTruncated bool                 `graphql:"isTruncated"`
					Text        *string              `graphql:"text"`
				} `graphql:"... on Blob"`
			} `graphql:"object(expression: $expression)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := c.repoVariables()
	variables["expression"] = githubv4.String(objectExpression(branch, p))
	if err := c.query(ctx, &query, variables); err != nil {
		if isNotFound(err) {
			return nil, errors.WrapIff(remote.ErrNotFound, "%s on %s", p, c.NameWithOwner())
		}
		return nil, errors.WrapIff(err, "failed to query file %q at branch %q", p, branch)
	}

	obj := query.Repository.Object
	if obj == nil {
		return nil, errors.WrapIff(remote.ErrNotFound, "%s at branch %q", p, branch)
	}
	if obj.Typename != "Blob" {
		return nil, errors.Errorf("%s at branch %q is a %s, not a file", p, branch, obj.Typename)
	}
	if obj.Blob.IsBinary != nil && *obj.Blob.IsBinary {
		return nil, errors.Errorf("%s at branch %q is a binary file", p, branch)
	}
	// GitHub cuts the text of large blobs short.
	if obj.Blob.IsTruncated {
		return nil, errors.Errorf(
			"%s at branch %q is too large to read through the API (%s)",
			p, branch, humanize.Bytes(uint64(obj.Blob.ByteSize)),
		)
	}
	content := ""
	if obj.Blob.Text != nil {
		content = *obj.Blob.Text
	}
	return &remote.FileContent{
		Path:    remote.CleanPath(p),
		Content: content,
		Size:    int64(obj.Blob.ByteSize),
		OID:     string(obj.Blob.Oid),
	}, nil
}

func (c *Client) Tree(ctx context.Context, p string, branch string) ([]remote.TreeEntry, error) {
	branch = c.branchOrDefault(branch)
	var query struct {
		Repository struct {
			Object *struct {
				Typename string `graphql:"__typename"`
				Tree     struct {
					Entries []struct {
						Name   string               `graphql:"name"`
						Path   string               `graphql:"path"`
						Type   string               `graphql:"type"`
						Oid    githubv4.GitObjectID `graphql:"oid"`
						Object *struct {
							Blob struct {
								ByteSize int `graphql:"byteSize"`
							} `graphql:"... on Blob"`
						} `graphql:"object"`
					} `graphql:"entries"`
				} `graphql:"... on Tree"`
			} `graphql:"object(expression: $expression)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := c.repoVariables()
	variables["expression"] = githubv4.String(objectExpression(branch, p))
	if err := c.query(ctx, &query, variables); err != nil {
		if isNotFound(err) {
			return nil, errors.WrapIff(remote.ErrNotFound, "%s on %s", p, c.NameWithOwner())
		}
		return nil, errors.WrapIff(err, "failed to query tree %q at branch %q", p, branch)
	}

	obj := query.Repository.Object
	if obj == nil {
		return nil, errors.WrapIff(remote.ErrNotFound, "directory %q at branch %q", p, branch)
	}
	if obj.Typename != "Tree" {
		return nil, errors.Errorf("%s at branch %q is a %s, not a directory", p, branch, obj.Typename)
	}

	entries := make([]remote.TreeEntry, 0, len(obj.Tree.Entries))
	for _, e := range obj.Tree.Entries {
		entry := remote.TreeEntry{
			Name: e.Name,
			Path: e.Path,
			OID:  string(e.Oid),
		}
		if entry.Path == "" {
			entry.Path = path.Join(remote.CleanPath(p), e.Name)
		}
		switch e.Type {
		case "tree":
			entry.Kind = remote.TreeEntryTree
		default:
			// Submodules ("commit") are reported as files; they can't be
			// listed any further.
			entry.Kind = remote.TreeEntryFile
			if e.Object != nil {
				entry.Size = Ptr(int64(e.Object.Blob.ByteSize))
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
