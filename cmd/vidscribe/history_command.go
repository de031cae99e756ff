package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/vidscribe/internal/eventstore"
	"github.com/loqalabs/vidscribe/internal/runtime"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or the events of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				store := rt.Store()
				stdout := cmd.OutOrStdout()
				if !store.Persistent() {
					fmt.Fprintln(stdout, "Run history is disabled (event_store.retention_mode=ephemeral)")
					return nil
				}
				if runID != "" {
					events, err := store.ListRunEvents(cmd.Context(), runID, limit)
					if err != nil {
						return err
					}
					if len(events) == 0 {
						fmt.Fprintf(stdout, "No events recorded for run %s\n", runID)
						return nil
					}
					fmt.Fprint(stdout, renderTable([]string{"Time", "Type", "Payload"}, eventRows(events)))
					fmt.Fprintln(stdout)
					return nil
				}

				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(stdout, "No runs recorded")
					return nil
				}
				headers := []string{"Run", "Started", "Duration", "Status", "Backend", "Input", "Chars", "Error"}
				// Duration and Chars
				fmt.Fprint(stdout, renderTable(headers, runRows(runs), 2, 6))
				fmt.Fprintln(stdout)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of rows")
	cmd.Flags().StringVar(&runID, "run", "", "Show the events of this run")
	return cmd
}

func runRows(runs []eventstore.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			r.ID,
			formatTime(r.StartedAt),
			duration,
			r.Status,
			r.Backend,
			r.Input,
			strconv.Itoa(r.Chars),
			truncate(r.Error, 60),
		})
	}
	return rows
}

func eventRows(events []eventstore.Event) [][]string {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{formatTime(e.CreatedAt), e.Type, truncate(string(e.Payload), 80)})
	}
	return rows
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
