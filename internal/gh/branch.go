package gh

import (
	"context"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/shurcooL/githubv4"
)

// BranchHead returns the oid of the commit that the branch points to.
// The result is only valid at the time of the query and must be re-fetched
// before every commit attempt.
func (c *Client) BranchHead(ctx context.Context, branch string) (string, error) {
	branch = c.branchOrDefault(branch)
	var query struct {
		Repository struct {
			Ref *struct {
				Target struct {
					Oid githubv4.GitObjectID `graphql:"oid"`
				} `graphql:"target"`
			} `graphql:"ref(qualifiedName: $qualifiedName)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := c.repoVariables()
	variables["qualifiedName"] = githubv4.String("refs/heads/" + branch)
	if err := c.query(ctx, &query, variables); err != nil {
		return "", errors.WrapIff(err, "failed to query head of branch %q", branch)
	}
	if query.Repository.Ref == nil || query.Repository.Ref.Target.Oid == "" {
		return "", errors.WrapIff(remote.ErrBranchNotFound, "branch %q on %s", branch, c.NameWithOwner())
	}
	return string(query.Repository.Ref.Target.Oid), nil
}
