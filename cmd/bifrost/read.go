package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/aviator-co/bifrost/internal/utils/colors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var headCmd = &cobra.Command{
	Use:   "head [branch]",
	Short: "print the commit a branch points to",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		var branch string
		if len(args) > 0 {
			branch = args[0]
		}
		head, err := client.Head(cmd.Context(), branch)
		if err != nil {
			return err
		}
		fmt.Println(head)
		return nil
	},
}

var catFlags struct {
	Branch string
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "print the content of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		file, err := client.GetFile(cmd.Context(), args[0], catFlags.Branch)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, file.Content)
		return err
	},
}

var lsFlags struct {
	Branch string
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "list a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		var p string
		if len(args) > 0 {
			p = args[0]
		}
		entries, err := client.GetTree(cmd.Context(), p, lsFlags.Branch)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			switch e.Kind {
			case remote.TreeEntryTree:
				_, _ = fmt.Fprintf(w, "%s\t%s\n", colors.Faint("-"), colors.Bold(e.Name+"/"))
			case remote.TreeEntryFile:
				size := "?"
				if e.Size != nil {
					size = humanize.Bytes(uint64(*e.Size))
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\n", size, e.Name)
			}
		}
		return w.Flush()
	},
}

func init() {
	catCmd.Flags().StringVarP(&catFlags.Branch, "branch", "b", "", "branch to read from (defaults to the default branch)")
	lsCmd.Flags().StringVarP(&lsFlags.Branch, "branch", "b", "", "branch to read from (defaults to the default branch)")
}
