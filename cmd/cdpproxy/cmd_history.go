package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cdpproxy/internal/storage"
)

var historyOpts struct {
	limit   int
	summary bool
	prune   time.Duration
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent replay history",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 20, "number of records")
	historyCmd.Flags().BoolVar(&historyOpts.summary, "summary", false, "count records by outcome")
	historyCmd.Flags().DurationVar(&historyOpts.prune, "prune", 0, "delete records older than this duration")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if !cfg.Sqlite.Enabled {
		return errors.New("history disabled: sqlite.enabled is false")
	}
	db, err := storage.Open(cfg.StorageOptions(), log)
	if err != nil {
		return err
	}
	defer storage.Close(db)
	h := storage.NewHistory(db, log)
	ctx := cmd.Context()

	if historyOpts.prune > 0 {
		n, err := h.Prune(ctx, time.Now().Add(-historyOpts.prune))
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d records\n", n)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if historyOpts.summary {
		counts, err := h.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "OUTCOME\tCOUNT")
		for _, c := range counts {
			fmt.Fprintf(w, "%s\t%d\n", c.Outcome, c.Count)
		}
		return w.Flush()
	}

	records, err := h.Recent(ctx, historyOpts.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TIME\tOUTCOME\tSTATUS\tMS\tMETHOD\tURL\tPROXY\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format(time.DateTime), r.Outcome, r.StatusCode, r.DurationMS, r.Method, r.URL, r.Proxy, r.Error)
	}
	return w.Flush()
}
