package gh

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/aviator-co/bifrost/internal/utils/logutils"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Client talks to a single GitHub repository through the GraphQL API.
type Client struct {
	gh            *githubv4.Client
	limiter       *rate.Limiter
	owner         string
	repo          string
	defaultBranch string
}

type ClientOpts struct {
	Token string
	// APIURL is the GraphQL endpoint. If empty, api.github.com is used.
	APIURL        string
	Owner         string
	Repo          string
	DefaultBranch string
	// RequestsPerSecond throttles API calls. Zero disables throttling.
	RequestsPerSecond float64
}

const defaultBranchName = "main"

var _ remote.Repository = &Client{}

func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.Errorf("no GitHub token provided (do you need to configure one?)")
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.Errorf("no GitHub repository configured (expected <owner>/<repo>)")
	}
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: opts.Token},
	)
	httpClient := oauth2.NewClient(context.Background(), src)

	var gh *githubv4.Client
	if opts.APIURL == "" {
		gh = githubv4.NewClient(httpClient)
	} else {
		gh = githubv4.NewEnterpriseClient(opts.APIURL, httpClient)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	defaultBranch := opts.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = defaultBranchName
	}
	return &Client{
		gh:            gh,
		limiter:       limiter,
		owner:         opts.Owner,
		repo:          opts.Repo,
		defaultBranch: defaultBranch,
	}, nil
}

// NameWithOwner returns the repository slug (e.g., "octocat/hello-world").
func (c *Client) NameWithOwner() string {
	return c.owner + "/" + c.repo
}

func (c *Client) branchOrDefault(branch string) string {
	if branch == "" {
		return c.defaultBranch
	}
	return branch
}

func (c *Client) repoVariables() map[string]any {
	return map[string]any{
		"owner": githubv4.String(c.owner),
		"repo":  githubv4.String(c.repo),
	}
}

// maxLoggedPayload caps how much of a request or response is logged.
const maxLoggedPayload = 4096

func (c *Client) query(ctx context.Context, query any, variables map[string]any) (reterr error) {
	log := logrus.WithFields(logrus.Fields{
		"variables": logutils.Format("%#+v", variables),
	})
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	log.Debug("executing GitHub API query...")
	startTime := time.Now()
	defer func() {
		log := log.WithFields(logrus.Fields{
			"elapsed": time.Since(startTime),
			"result":  logutils.FormatTruncated("%#+v", query, maxLoggedPayload),
		})
		if reterr != nil {
			log.WithError(reterr).Debug("GitHub API query failed")
		} else {
			log.Debug("GitHub API query succeeded")
		}
	}()
	return c.gh.Query(ctx, query, variables)
}

func (c *Client) mutate(ctx context.Context, mutation any, input githubv4.Input, variables map[string]any) (reterr error) {
	log := logrus.WithFields(logrus.Fields{
		"input": logutils.FormatTruncated("%#+v", input, maxLoggedPayload),
	})
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	log.Debug("executing GitHub API mutation...")
	startTime := time.Now()
	defer func() {
		log := log.WithFields(logrus.Fields{
			"elapsed": time.Since(startTime),
			"result":  logutils.Format("%#+v", mutation),
		})
		if reterr != nil {
			log.WithError(reterr).Debug("GitHub API mutation failed")
		} else {
			log.Debug("GitHub API mutation succeeded")
		}
	}()
	return c.gh.Mutate(ctx, mutation, input, variables)
}

// Ptr returns a pointer to the argument.
// It's a convenience function to make working with the API easier: since Go
// disallows pointers-to-literals, and optional input fields are expressed as
// pointers, this function can be used to easily set optional fields to non-nil
// primitives.
// For example, githubv4.CommittableBranch{BranchName: Ptr(githubv4.String("main"))}
func Ptr[T any](v T) *T {
	return &v
}

// nullable returns a pointer to the argument if it's not the zero value,
// otherwise it returns nil.
// This is useful to translate between Golang-style "unset is zero" and GraphQL
// which distinguishes between unset (null) and zero values.
func nullable[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
