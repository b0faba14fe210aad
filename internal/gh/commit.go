package gh

import (
	"context"
	"encoding/base64"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
)

// CreateCommit creates a single commit on the branch using the
// createCommitOnBranch mutation. GitHub only applies the commit if the branch
// still points to req.ExpectedHeadOID; otherwise the whole mutation is
// rejected and a *remote.ConflictError is returned.
func (c *Client) CreateCommit(ctx context.Context, req remote.CommitRequest) (*remote.Commit, error) {
	branch := c.branchOrDefault(req.Branch)
	if req.ExpectedHeadOID == "" {
		return nil, errors.Errorf("cannot commit to branch %q without an expected head", branch)
	}

	var fileChanges githubv4.FileChanges
	if len(req.Additions) > 0 {
		additions := make([]githubv4.FileAddition, 0, len(req.Additions))
		for _, a := range req.Additions {
			additions = append(additions, githubv4.FileAddition{
				Path:     githubv4.String(remote.CleanPath(a.Path)),
				Contents: githubv4.Base64String(base64.StdEncoding.EncodeToString([]byte(a.Content))),
			})
		}
		fileChanges.Additions = &additions
	}
	if len(req.Deletions) > 0 {
		deletions := make([]githubv4.FileDeletion, 0, len(req.Deletions))
		for _, p := range req.Deletions {
			deletions = append(deletions, githubv4.FileDeletion{Path: githubv4.String(remote.CleanPath(p))})
		}
		fileChanges.Deletions = &deletions
	}

	input := githubv4.CreateCommitOnBranchInput{
		Branch: githubv4.CommittableBranch{
			RepositoryNameWithOwner: Ptr(githubv4.String(c.NameWithOwner())),
			BranchName:              Ptr(githubv4.String(branch)),
		},
		Message: githubv4.CommitMessage{
			Headline: githubv4.String(req.Headline),
			Body:     nullable(githubv4.String(req.Body)),
		},
		FileChanges:     &fileChanges,
		ExpectedHeadOid: githubv4.GitObjectID(req.ExpectedHeadOID),
	}

	var mutation struct {
		CreateCommitOnBranch struct {
			Commit struct {
				Oid       githubv4.GitObjectID `graphql:"oid"`
				URL       string               `graphql:"url"`
				Signature *struct {
					IsValid bool `graphql:"isValid"`
				} `graphql:"signature"`
			} `graphql:"commit"`
		} `graphql:"createCommitOnBranch(input: $input)"`
	}
	if err := c.mutate(ctx, &mutation, input, nil); err != nil {
		if IsStaleHead(err) {
			logrus.WithFields(logrus.Fields{
				"branch":   branch,
				"expected": req.ExpectedHeadOID,
			}).Debug("GitHub rejected commit: branch head moved")
			return nil, &remote.ConflictError{
				Branch:   branch,
				Expected: req.ExpectedHeadOID,
				Message:  err.Error(),
			}
		}
		return nil, errors.WrapIff(err, "failed to create commit on branch %q: github error", branch)
	}

	commit := mutation.CreateCommitOnBranch.Commit
	if commit.Oid == "" {
		return nil, errors.Errorf("GitHub did not return a commit for branch %q", branch)
	}
	result := &remote.Commit{
		OID: string(commit.Oid),
		URL: commit.URL,
	}
	if commit.Signature != nil {
		result.Verified = commit.Signature.IsValid
	}
	return result, nil
}
