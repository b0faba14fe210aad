package main

import (
	"fmt"
	"os"

	"github.com/aviator-co/bifrost/internal/batch"
	"github.com/aviator-co/bifrost/internal/utils/colors"
	"github.com/dustin/go-humanize"
	"github.com/kr/text"
	"github.com/spf13/cobra"
)

var historyFlags struct {
	Verbose bool
	Limit   int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "show recently completed batches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := getHistory()
		if err != nil {
			return err
		}
		batches := db.All()
		if len(batches) == 0 {
			_, _ = fmt.Fprint(os.Stderr, colors.Faint("No batches have been committed yet.\n"))
			return nil
		}
		if historyFlags.Limit > 0 && len(batches) > historyFlags.Limit {
			batches = batches[len(batches)-historyFlags.Limit:]
		}
		// Most recent first.
		for i := len(batches) - 1; i >= 0; i-- {
			printBatch(batches[i], historyFlags.Verbose)
		}
		return nil
	},
}

func printBatch(b batch.Batch, verbose bool) {
	fmt.Printf("%s %s %s %s\n",
		colors.UserInput(b.ID),
		batchStatus(b.Status),
		colors.Bold(b.Branch),
		colors.Faint(humanize.Time(b.CompletedAt)),
	)
	fmt.Print(text.Indent(b.Message, "    "), "\n")
	if b.CommitID != "" {
		fmt.Printf("    commit %s\n", b.CommitID)
	}
	if b.Error != "" {
		fmt.Printf("    %s\n", colors.Failure(b.Error))
	}
	if !verbose {
		fmt.Printf("    %s\n", colors.Faint(fmt.Sprintf("%d operation(s)", len(b.Operations))))
		return
	}
	for _, op := range b.Operations {
		fmt.Printf("    %-6s %s\n", op.Kind, op.Path)
	}
}

func batchStatus(s batch.Status) string {
	switch s {
	case batch.StatusCommitted:
		return colors.Success(s.String())
	case batch.StatusFailed:
		return colors.Failure(s.String())
	case batch.StatusRolledBack:
		return colors.Warning(s.String())
	case batch.StatusPending:
		return colors.Faint(s.String())
	}
	return s.String()
}

func init() {
	historyCmd.Flags().BoolVarP(&historyFlags.Verbose, "verbose", "v", false, "list the operations of every batch")
	historyCmd.Flags().IntVarP(&historyFlags.Limit, "limit", "n", 20, "number of batches to show (0 for all)")
}
