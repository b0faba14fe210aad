package main

import (
	"fmt"
	"os"
	"strings"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/batch"
	"github.com/aviator-co/bifrost/internal/bifrost"
	"github.com/aviator-co/bifrost/internal/editor"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/aviator-co/bifrost/internal/utils/colors"
	"github.com/erikgeiser/promptkit/confirmation"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var commitFlags struct {
	Message string
	Branch  string
	Add     []string
	Delete  []string
	Yes     bool
}

var commitCmd = &cobra.Command{
	Use:   "commit [-m <message>] [--add repo/path=local/file]... [--delete repo/path]...",
	Short: "commit file changes as a single commit",
	Long: strings.TrimSpace(`
Commit one or more file changes to a branch as a single commit.

The commit is only created if the branch still points to the commit it
pointed to right before the write. If someone else pushes to the branch in
the meantime, nothing is committed and the command fails; run it again to
retry against the new head.`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(commitFlags.Add) == 0 && len(commitFlags.Delete) == 0 {
			return errors.New("nothing to commit (use --add or --delete)")
		}
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var changes []bifrost.Change
		for _, add := range commitFlags.Add {
			repoPath, localPath, ok := strings.Cut(add, "=")
			if !ok || repoPath == "" || localPath == "" {
				return errors.Errorf("invalid --add value %q (expected repo/path=local/file)", add)
			}
			content, err := os.ReadFile(localPath)
			if err != nil {
				return errors.WrapIff(err, "failed to read %q", localPath)
			}
			_, err = client.GetFile(ctx, repoPath, commitFlags.Branch)
			switch {
			case err == nil:
				changes = append(changes, bifrost.Update(repoPath, string(content)))
			case errors.Is(err, remote.ErrNotFound):
				changes = append(changes, bifrost.Create(repoPath, string(content)))
			default:
				return err
			}
		}
		for _, p := range commitFlags.Delete {
			changes = append(changes, bifrost.Delete(p))
		}
		if len(commitFlags.Delete) > 0 && !commitFlags.Yes && isatty.IsTerminal(os.Stdin.Fd()) {
			ok, err := confirmation.New(
				fmt.Sprintf("Delete %d file(s)?", len(commitFlags.Delete)),
				confirmation.No,
			).RunPrompt()
			if err != nil {
				return err
			}
			if !ok {
				_, _ = fmt.Fprint(os.Stderr, colors.Faint("Aborted, nothing was committed.\n"))
				return errExitSilently{ExitCode: 1}
			}
		}

		if commitFlags.Message == "" {
			commitFlags.Message, err = messageFromEditor(changes)
			if err != nil {
				return err
			}
		}

		if len(changes) == 1 {
			var commit *remote.Commit
			if ch := changes[0]; ch.Kind == batch.OperationDelete {
				commit, err = client.DeleteFile(ctx, commitFlags.Branch, ch.Path, commitFlags.Message)
			} else {
				commit, err = client.CommitFile(ctx, commitFlags.Branch, ch.Path, ch.Content, commitFlags.Message)
			}
			if err != nil {
				return reportCommitError(err)
			}
			printCommit(commit.OID, commit.URL, commit.Verified)
			return nil
		}

		res, err := client.CommitFiles(ctx, commitFlags.Branch, commitFlags.Message, changes)
		if err != nil {
			return reportCommitError(err)
		}
		printCommit(res.CommitID, res.CommitURL, res.Verified)
		_, _ = fmt.Fprint(os.Stderr, colors.Faint("  batch "+res.BatchID), "\n")
		return nil
	},
}

// messageFromEditor asks the user for a commit message. Only the first line
// is used as the commit headline.
func messageFromEditor(changes []bifrost.Change) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", errors.New("no commit message given (use -m when not running in a terminal)")
	}
	var text strings.Builder
	text.WriteString("\n")
	text.WriteString("# Please enter the commit message for your changes. Lines starting\n")
	text.WriteString("# with '#' will be ignored, and an empty message aborts the commit.\n")
	text.WriteString("#\n# Changes to be committed:\n")
	for _, ch := range changes {
		fmt.Fprintf(&text, "#\t%s %s\n", ch.Kind, ch.Path)
	}
	res, err := editor.Launch(editor.Config{
		Text:           text.String(),
		TmpFilePattern: "COMMIT_EDITMSG-*",
		CommentPrefix:  "#",
	})
	if err != nil {
		return "", errors.WrapIf(err, "failed to edit commit message")
	}
	headline, _, _ := strings.Cut(strings.TrimSpace(res), "\n")
	if headline == "" {
		return "", errors.New("aborting commit due to empty commit message")
	}
	return headline, nil
}

func printCommit(oid, url string, verified bool) {
	_, _ = fmt.Fprint(os.Stderr, colors.Success("Created commit "), colors.UserInput(oid))
	if verified {
		_, _ = fmt.Fprint(os.Stderr, colors.Faint(" (verified)"))
	}
	_, _ = fmt.Fprint(os.Stderr, "\n")
	if url != "" {
		_, _ = fmt.Fprint(os.Stderr, "  ", url, "\n")
	}
}

func reportCommitError(err error) error {
	if !errors.Is(err, batch.ErrConcurrencyConflict) && !errors.Is(err, remote.ErrConflict) {
		return err
	}
	_, _ = fmt.Fprint(os.Stderr,
		colors.Failure("Nothing was committed: the branch moved while committing.\n"),
		colors.Troubleshooting("  - Re-run "), colors.CliCmd("bifrost commit"),
		colors.Troubleshooting(" to retry against the new branch head.\n"),
	)
	if rootFlags.Debug {
		return err
	}
	return errExitSilently{ExitCode: 1}
}

func init() {
	commitCmd.Flags().StringVarP(&commitFlags.Message, "message", "m", "", "commit message (opens an editor if not given)")
	commitCmd.Flags().StringVarP(&commitFlags.Branch, "branch", "b", "", "branch to commit to (defaults to the default branch)")
	commitCmd.Flags().StringArrayVar(&commitFlags.Add, "add", nil, "add or update a file, as repo/path=local/file")
	commitCmd.Flags().StringArrayVar(&commitFlags.Delete, "delete", nil, "delete a file")
	commitCmd.Flags().BoolVarP(&commitFlags.Yes, "yes", "y", false, "don't ask for confirmation before deleting files")
}
