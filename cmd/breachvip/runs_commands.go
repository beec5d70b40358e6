package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"breachvip/internal/journal"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect past search runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	return runsCmd
}

type runView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	ResultCount int        `json:"result_count"`
}

type runItemView struct {
	Position     int    `json:"position"`
	Term         string `json:"term"`
	State        string `json:"state"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ResultCount  int    `json:"result_count"`
	Attempts     int    `json:"attempts"`
}

func newRunView(run journal.Run) runView {
	return runView{
		ID:          run.ID,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Total:       run.Total,
		Succeeded:   run.Succeeded,
		Failed:      run.Failed,
		ResultCount: run.ResultCount,
	}
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent search runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJournal(func(store *journal.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					views := make([]runView, 0, len(runs))
					for _, run := range runs {
						views = append(views, newRunView(run))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.ID,
						run.StartedAt.Local().Format("2006-01-02 15:04:05"),
						string(run.Status),
						strconv.Itoa(run.Total),
						strconv.Itoa(run.Succeeded),
						strconv.Itoa(run.Failed),
						strconv.Itoa(run.ResultCount),
						formatDuration(run.Duration()),
					})
				}
				fmt.Fprintln(out, renderTable("", []column{
					{header: "Run"},
					{header: "Started"},
					{header: "Status"},
					{header: "Total", align: alignRight},
					{header: "OK", align: alignRight},
					{header: "Failed", align: alignRight},
					{header: "Results", align: alignRight},
					{header: "Duration", align: alignRight},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit runs as JSON")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the lookups of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJournal(func(store *journal.Store) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				items, err := store.RunItems(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					views := make([]runItemView, 0, len(items))
					for _, item := range items {
						views = append(views, runItemView(item))
					}
					return writeJSON(cmd, struct {
						Run   runView       `json:"run"`
						Items []runItemView `json:"items"`
					}{Run: newRunView(run), Items: views})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:      %s\n", run.ID)
				fmt.Fprintf(out, "Status:   %s\n", run.Status)
				fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
				if run.FinishedAt != nil {
					fmt.Fprintf(out, "Finished: %s (%s)\n", run.FinishedAt.Local().Format(time.RFC3339), formatDuration(run.Duration()))
				}
				fmt.Fprintf(out, "Lookups:  %d total, %d succeeded, %d failed, %d results\n",
					run.Total, run.Succeeded, run.Failed, run.ResultCount)
				if len(items) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						strconv.Itoa(item.Position),
						item.Term,
						item.State,
						strconv.Itoa(item.ResultCount),
						strconv.Itoa(item.Attempts),
						item.ErrorKind,
						item.ErrorMessage,
					})
				}
				fmt.Fprintln(out, renderTable("", []column{
					{header: "#", align: alignRight},
					{header: "Term"},
					{header: "State"},
					{header: "Results", align: alignRight},
					{header: "Attempts", align: alignRight},
					{header: "Kind"},
					{header: "Error", maxWidth: 60},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the run as JSON")
	return cmd
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
