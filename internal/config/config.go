package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/adrg/xdg"
	giturls "github.com/chainguard-dev/git-urls"
	"github.com/spf13/viper"
)

type GitHub struct {
	Token string
	// APIURL is the GraphQL endpoint. If empty, https://api.github.com/graphql
	// is used.
	APIURL string
	// Repository is either "owner/repo" or any Git remote URL.
	Repository    string
	DefaultBranch string
	// RequestsPerSecond limits the rate of GitHub API calls. Zero means no
	// limit.
	RequestsPerSecond float64
}

type Cache struct {
	TTL  time.Duration
	Size int
}

type History struct {
	// Path is the JSON file that completed batches are recorded in. Defaults
	// to a file in the XDG state directory.
	Path string
}

type Simulation struct {
	// If true, commits are written to a local Git repository instead of
	// GitHub.
	Enabled bool
	// Path of the local repository. Defaults to a bare repository in the XDG
	// data directory.
	Path string
}

type Config struct {
	GitHub     GitHub
	Cache      Cache
	History    History
	Simulation Simulation
}

func defaults() Config {
	return Config{
		GitHub: GitHub{
			DefaultBranch: "main",
		},
		Cache: Cache{
			TTL:  5 * time.Minute,
			Size: 1024,
		},
	}
}

var Bifrost = defaults()

// Load initializes the configuration values.
// It may optionally be called with a list of additional paths to check for the
// config file.
// Returns a boolean indicating whether or not a config file was loaded and an
// error if one occurred.
func Load(paths []string) (bool, error) {
	Bifrost = defaults()
	loaded, err := loadFromFile(paths)
	if err != nil {
		return loaded, err
	}
	return loaded, loadFromEnv()
}

func loadFromFile(paths []string) (bool, error) {
	config := viper.New()

	// Viper has support for various formats, so it supports json, toml, yaml,
	// and more (https://github.com/spf13/viper#reading-config-files).
	config.SetConfigName("config")

	// Reasonable places to look for config files.
	config.AddConfigPath("$XDG_CONFIG_HOME/bifrost")
	config.AddConfigPath("$HOME/.config/bifrost")
	config.AddConfigPath("$BIFROST_HOME")
	for _, path := range paths {
		config.AddConfigPath(path)
	}

	if err := config.ReadInConfig(); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return false, nil
		}
		return false, err
	}

	if err := config.Unmarshal(&Bifrost); err != nil {
		return true, errors.Wrap(err, "failed to read bifrost configs")
	}

	return true, nil
}

func loadFromEnv() error {
	if githubToken := os.Getenv("BIFROST_GITHUB_TOKEN"); githubToken != "" {
		Bifrost.GitHub.Token = githubToken
	} else if githubToken := os.Getenv("GITHUB_TOKEN"); githubToken != "" {
		Bifrost.GitHub.Token = githubToken
	}
	if repository := os.Getenv("BIFROST_REPOSITORY"); repository != "" {
		Bifrost.GitHub.Repository = repository
	}
	if simulate := os.Getenv("BIFROST_SIMULATE"); simulate != "" {
		enabled, err := strconv.ParseBool(simulate)
		if err != nil {
			return errors.WrapIff(err, "invalid value for BIFROST_SIMULATE")
		}
		Bifrost.Simulation.Enabled = enabled
	}
	return nil
}

// Validate checks that the loaded configuration is enough to talk to the
// configured backend.
func (c Config) Validate() error {
	if c.Simulation.Enabled {
		return nil
	}
	if c.GitHub.Token == "" {
		return errors.New("no GitHub token configured (set github.token or GITHUB_TOKEN, or enable simulation mode)")
	}
	if _, _, err := c.GitHub.RepositorySlug(); err != nil {
		return err
	}
	return nil
}

var slugRegexp = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// RepositorySlug returns the owner and name of the configured repository.
func (g GitHub) RepositorySlug() (string, string, error) {
	if g.Repository == "" {
		return "", "", errors.New("no GitHub repository configured (set github.repository or BIFROST_REPOSITORY)")
	}
	slug := g.Repository
	if !slugRegexp.MatchString(slug) {
		u, err := giturls.Parse(g.Repository)
		if err != nil {
			return "", "", errors.WrapIff(err, "failed to parse repository %q", g.Repository)
		}
		slug = strings.TrimSuffix(u.Path, ".git")
		slug = strings.Trim(slug, "/")
	}
	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", errors.Errorf("repository %q is not of the form owner/repo", g.Repository)
	}
	return owner, repo, nil
}

// HistoryPath returns the file that completed batches are recorded in.
func (c Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	pth, err := xdg.StateFile(filepath.Join("bifrost", "history.json"))
	if err != nil {
		return "", errors.WrapIff(err, "failed to determine batch history path")
	}
	return pth, nil
}

// SimulationPath returns the local repository used in simulation mode.
func (c Config) SimulationPath() (string, error) {
	if c.Simulation.Path != "" {
		return c.Simulation.Path, nil
	}
	pth, err := xdg.DataFile(filepath.Join("bifrost", "simulation.git", "HEAD"))
	if err != nil {
		return "", errors.WrapIff(err, "failed to determine simulation repository path")
	}
	return filepath.Dir(pth), nil
}
