package main

import (
	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/batch"
	"github.com/aviator-co/bifrost/internal/batch/jsonhistory"
	"github.com/aviator-co/bifrost/internal/bifrost"
	"github.com/aviator-co/bifrost/internal/cache"
	"github.com/aviator-co/bifrost/internal/config"
	"github.com/aviator-co/bifrost/internal/gh"
	"github.com/aviator-co/bifrost/internal/gitlocal"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/sirupsen/logrus"
)

var cachedClient *bifrost.Client

func getClient() (*bifrost.Client, error) {
	if cachedClient != nil {
		return cachedClient, nil
	}
	cfg := config.Bifrost
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := getRemote(cfg)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cache.Opts{
		Size:          cfg.Cache.Size,
		TTL:           cfg.Cache.TTL,
		DefaultBranch: cfg.GitHub.DefaultBranch,
	})
	if err != nil {
		return nil, err
	}
	history, err := getHistory()
	if err != nil {
		return nil, err
	}
	m := batch.NewManager(repo,
		batch.WithHistory(history),
		batch.WithDefaultBranch(cfg.GitHub.DefaultBranch),
	)
	cachedClient = bifrost.New(repo, c, m, bifrost.Opts{DefaultBranch: cfg.GitHub.DefaultBranch})
	return cachedClient, nil
}

func getRemote(cfg config.Config) (remote.Repository, error) {
	if cfg.Simulation.Enabled {
		pth, err := cfg.SimulationPath()
		if err != nil {
			return nil, err
		}
		repo, err := gitlocal.Open(gitlocal.Opts{
			Path:          pth,
			DefaultBranch: cfg.GitHub.DefaultBranch,
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	owner, repo, err := cfg.GitHub.RepositorySlug()
	if err != nil {
		return nil, err
	}
	client, err := gh.NewClient(gh.ClientOpts{
		Token:             cfg.GitHub.Token,
		APIURL:            cfg.GitHub.APIURL,
		Owner:             owner,
		Repo:              repo,
		DefaultBranch:     cfg.GitHub.DefaultBranch,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}
	logrus.WithField("repository", client.NameWithOwner()).Debug("using GitHub repository")
	return client, nil
}

func getHistory() (*jsonhistory.DB, error) {
	pth, err := config.Bifrost.HistoryPath()
	if err != nil {
		return nil, err
	}
	db, err := jsonhistory.Open(pth)
	if err != nil {
		return nil, errors.WrapIff(err, "failed to open batch history")
	}
	return db, nil
}
