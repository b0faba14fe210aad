package main

import (
	"fmt"
	"os"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/config"
	"github.com/aviator-co/bifrost/internal/gh"
	"github.com/aviator-co/bifrost/internal/utils/colors"
	"github.com/kr/text"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	Debug     bool
	Simulate  bool
	ConfigDir string
}

var RootCmd = &cobra.Command{
	Use:   "bifrost",
	Short: "commit batches of files to a GitHub repository as a single commit",

	// Don't automatically print errors or usage information (we handle that ourselves).
	// Cobra still prints usage if you return cmd.Usage() from RunE.
	SilenceErrors: true,
	SilenceUsage:  true,

	// Don't show "completion" command in help menu
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},

	// Run setup before invoking any child commands.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootFlags.Debug {
			logrus.SetLevel(logrus.DebugLevel)
			logrus.WithField("bifrost_version", config.Version).Debug("enabled debug logging")
		}

		var configDirs []string
		if rootFlags.ConfigDir != "" {
			configDirs = append(configDirs, rootFlags.ConfigDir)
		}
		// Note: this only returns an error if config exists and it can't be
		// read/parsed. It doesn't return an error if no config file exists.
		didLoadConfig, err := config.Load(configDirs)
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		if didLoadConfig {
			logrus.Debug("loaded configuration")
		} else {
			logrus.Debug("no configuration found")
		}
		if rootFlags.Simulate {
			config.Bifrost.Simulation.Enabled = true
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(
		&rootFlags.Debug, "debug", false,
		"enable verbose debug logging",
	)
	RootCmd.PersistentFlags().BoolVar(
		&rootFlags.Simulate, "simulate", false,
		"write to a local Git repository instead of GitHub",
	)
	RootCmd.PersistentFlags().StringVar(
		&rootFlags.ConfigDir, "config-dir", "",
		"additional directory to look for config.{yaml,json,toml} in",
	)
	RootCmd.AddCommand(
		catCmd,
		commitCmd,
		headCmd,
		historyCmd,
		lsCmd,
		versionCmd,
	)
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		var exitSilently errExitSilently
		if errors.As(err, &exitSilently) {
			os.Exit(exitSilently.ExitCode)
		}

		// In debug mode, show more detailed information about the error
		// (including the stack trace).
		if rootFlags.Debug {
			stackTrace := fmt.Sprintf("%+v", err)
			_, _ = fmt.Fprintf(os.Stderr, "error: %s\n%s\n", err, text.Indent(stackTrace, "\t"))
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		if gh.IsHTTPUnauthorized(err) {
			_, _ = fmt.Fprint(os.Stderr,
				colors.Troubleshooting("  - GitHub rejected the token. Check "),
				colors.CliCmd("github.token"),
				colors.Troubleshooting(" in your config or the "),
				colors.CliCmd("GITHUB_TOKEN"),
				colors.Troubleshooting(" environment variable.\n"),
			)
		}

		os.Exit(1)
	}
}

// errExitSilently is returned by commands that already reported the error to
// the user.
type errExitSilently struct {
	ExitCode int
}

func (e errExitSilently) Error() string {
	return "<exit silently>"
}
