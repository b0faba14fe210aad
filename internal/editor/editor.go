// Package editor lets the user write a commit message in their editor.
package editor

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"
	"strings"

	"emperror.dev/errors"
	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// The text to be edited.
	Text string
	// The file pattern to use when creating the temporary file for the editor.
	TmpFilePattern string
	// Lines starting with this prefix are removed from the result.
	CommentPrefix string
	// The editor command to be used.
	// If empty, DefaultCommand is used.
	Command string
}

// CommandNoOp is a special command that indicates that no editor should be
// launched and the text should be returned as-is (like git's GIT_EDITOR=:).
const CommandNoOp = ":"

// Launch opens the text in an editor and returns the edited text once the
// editor exits.
func Launch(config Config) (string, error) {
	if config.Command == "" {
		config.Command = DefaultCommand()
	}
	if config.TmpFilePattern == "" {
		config.TmpFilePattern = "bifrost-message-*"
	}

	if config.Command == CommandNoOp {
		return stripComments(strings.NewReader(config.Text), config.CommentPrefix)
	}

	tmp, err := os.CreateTemp("", config.TmpFilePattern)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil {
			logrus.WithError(err).Warn("failed to remove temporary file")
		}
	}()
	if _, err := tmp.WriteString(config.Text); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// The command is interpreted with shell syntax, so that both
	// EDITOR="code --wait" and EDITOR="'/path/with spaces/editor'" work.
	args, err := shellquote.Split(config.Command)
	if err != nil {
		return "", errors.Wrapf(err, "invalid editor command: %q", config.Command)
	}
	if len(args) == 0 {
		return "", errors.Errorf("invalid editor command: %q", config.Command)
	}
	args = append(args, tmp.Name())
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr
	logrus.WithField("cmd", cmd.String()).Debug("launching editor")
	if err := cmd.Run(); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"cmd": cmd.String(),
			"out": stderr.String(),
		}).Warn("editor exited with error")
		return "", err
	}

	f, err := os.Open(tmp.Name())
	if err != nil {
		return "", err
	}
	defer f.Close()
	return stripComments(f, config.CommentPrefix)
}

// DefaultCommand returns the editor configured in the environment.
func DefaultCommand() string {
	for _, env := range []string{"BIFROST_EDITOR", "VISUAL", "EDITOR"} {
		if editor := os.Getenv(env); editor != "" {
			return editor
		}
	}
	return "vi"
}

func stripComments(r io.Reader, prefix string) (string, error) {
	scan := bufio.NewScanner(r)
	res := bytes.NewBuffer(nil)
	for scan.Scan() {
		line := scan.Text()
		if prefix != "" && strings.HasPrefix(line, prefix) {
			continue
		}
		res.WriteString(line)
		res.WriteString("\n")
	}
	if err := scan.Err(); err != nil {
		return "", err
	}
	return res.String(), nil
}
