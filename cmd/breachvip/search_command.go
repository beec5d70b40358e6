package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"breachvip/internal/breachvip"
	"breachvip/internal/config"
	"breachvip/internal/journal"
	"breachvip/internal/logging"
	"breachvip/internal/lookupinput"
	"breachvip/internal/services"
)

type searchOptions struct {
	fields        []string
	categories    []string
	wildcard      bool
	caseSensitive bool
	inputPath     string
	jsonOutput    bool
	noLock        bool
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [term...]",
		Short: "Look up terms in the breach index",
		Long: `Look up one or more terms in the breach index.

Terms come from the command line or from --input (YAML, JSON, JSON lines or
plain text; "-" reads stdin). Lookups run one at a time at the configured
rate; a term that fails is reported and skipped without stopping the batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, ctx, opts, args)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.fields, "field", "f", nil, "Record field to match (repeatable; default from search.default_fields)")
	cmd.Flags().StringSliceVar(&opts.categories, "category", nil, "Restrict results to a category (repeatable)")
	cmd.Flags().BoolVar(&opts.wildcard, "wildcard", false, "Treat the term as a wildcard pattern")
	cmd.Flags().BoolVar(&opts.caseSensitive, "case-sensitive", false, "Match the term case-sensitively")
	cmd.Flags().StringVarP(&opts.inputPath, "input", "i", "", "Read lookups from a file (- for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Emit results as JSON")
	cmd.Flags().BoolVar(&opts.noLock, "no-lock", false, "Skip the single-run lock")
	return cmd
}

func runSearch(cmd *cobra.Command, ctx *commandContext, opts searchOptions, args []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	requests, err := collectRequests(cmd, cfg, opts, args)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return errors.New("no lookups given: pass terms as arguments or use --input")
	}

	logger, err := ctx.logger(cmd)
	if err != nil {
		return err
	}

	locked := false
	if cfg.Journal.ExclusiveRuns && !opts.noLock {
		lock := flock.New(cfg.LockPath())
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire search lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another breachvip search is already running (lock %s); use --no-lock to run anyway", cfg.LockPath())
		}
		locked = true
		defer func() {
			if err := lock.Unlock(); err != nil {
				logging.WarnWithContext(logger, "failed to release search lock", "lock_release_failed",
					logging.String("lock", cfg.LockPath()),
					logging.Error(err),
				)
			}
		}()
	}

	client, err := ctx.newClient(logger)
	if err != nil {
		return err
	}
	defer client.Close()

	runID := uuid.NewString()
	runCtx := services.WithRunID(cmd.Context(), runID)

	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = ctx.openJournal()
		if err != nil {
			return err
		}
		defer store.Close()
		if locked {
			if n, err := store.MarkInterrupted(runCtx); err != nil {
				logging.WarnWithContext(logger, "failed to close stale runs", "journal_maintenance_failed", logging.Error(err))
			} else if n > 0 {
				logger.Info("marked stale runs as interrupted", logging.Int("runs", int(n)))
			}
		}
		if err := store.BeginRun(runCtx, runID, len(requests)); err != nil {
			return fmt.Errorf("record run start: %w", err)
		}
	}

	runnerOpts := []breachvip.RunnerOption{breachvip.WithRunnerLogger(logger)}
	if store != nil {
		runnerOpts = append(runnerOpts, breachvip.WithObserver(journalObserver(store, logger)))
	}
	result, runErr := breachvip.NewRunner(client, runnerOpts...).Run(runCtx, requests)

	if store != nil {
		summary := journal.Summary{
			Succeeded:   result.Succeeded,
			Failed:      result.Failed,
			ResultCount: len(result.Items),
			Status:      journal.StatusCompleted,
			FinishedAt:  result.FinishedAt,
		}
		if runErr != nil {
			summary.Status = journal.StatusCancelled
		}
		if err := store.FinishRun(context.WithoutCancel(runCtx), runID, summary); err != nil {
			logging.WarnWithContext(logger, "failed to record run completion", "journal_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run history shows this run as still running"),
			)
		}
	}

	if opts.jsonOutput || !isTerminal(cmd.OutOrStdout()) {
		if err := writeJSON(cmd, result.Items); err != nil {
			return err
		}
	} else {
		writeSearchTable(cmd, result)
	}
	return runErr
}

// collectRequests merges positional terms and --input entries, then applies
// flag values to every request that does not set them itself.
func collectRequests(cmd *cobra.Command, cfg *config.Config, opts searchOptions, args []string) ([]breachvip.LookupRequest, error) {
	defaultFields := cfg.Search.DefaultFields
	if len(opts.fields) > 0 {
		defaultFields = opts.fields
	}

	var requests []breachvip.LookupRequest
	if path := strings.TrimSpace(opts.inputPath); path != "" {
		loaded, err := lookupinput.LoadFile(path,
			lookupinput.WithDefaultFields(defaultFields),
			lookupinput.WithStdin(cmd.InOrStdin()),
		)
		if err != nil {
			return nil, fmt.Errorf("load lookups: %w", err)
		}
		requests = append(requests, loaded...)
	}
	for _, term := range args {
		requests = append(requests, breachvip.LookupRequest{
			Term:   term,
			Fields: append([]string(nil), defaultFields...),
		})
	}

	flags := cmd.Flags()
	for i := range requests {
		req := &requests[i]
		if flags.Changed("category") && req.Categories == nil {
			req.Categories = append([]string{}, opts.categories...)
		}
		if flags.Changed("wildcard") && req.Wildcard == nil {
			req.Wildcard = breachvip.Bool(opts.wildcard)
		}
		if flags.Changed("case-sensitive") && req.CaseSensitive == nil {
			req.CaseSensitive = breachvip.Bool(opts.caseSensitive)
		}
	}
	return requests, nil
}

func journalObserver(store *journal.Store, logger *slog.Logger) breachvip.Observer {
	return func(ctx context.Context, outcome breachvip.ItemOutcome) {
		runID, _ := services.RunIDFromContext(ctx)
		if err := store.RecordItem(context.WithoutCancel(ctx), runID, itemRecord(outcome)); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, logger), "failed to record lookup in journal", "journal_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run history is missing this lookup"),
			)
		}
	}
}

func itemRecord(outcome breachvip.ItemOutcome) journal.ItemRecord {
	rec := journal.ItemRecord{
		Position:    outcome.Index,
		Term:        outcome.Term,
		State:       string(outcome.State),
		ResultCount: len(outcome.Results),
		Attempts:    outcome.Attempts,
	}
	if outcome.Err != nil {
		rec.ErrorKind = outcome.Kind()
		rec.ErrorMessage = outcome.Err.Error()
	}
	return rec
}

func writeSearchTable(cmd *cobra.Command, result breachvip.BatchResult) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(result.Items))
	for i, item := range result.Items {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			item.Subject,
			item.Source,
			strings.Join(item.Categories, ", "),
			item.FetchedAt.Format(time.RFC3339),
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No results")
	} else {
		fmt.Fprintln(out, renderTable("", []column{
			{header: "#", align: alignRight},
			{header: "Subject"},
			{header: "Source", maxWidth: 40},
			{header: "Categories", maxWidth: 40},
			{header: "Fetched"},
		}, rows))
	}

	var skipped [][]string
	for _, outcome := range result.Outcomes {
		if !outcome.Failed() {
			continue
		}
		skipped = append(skipped, []string{
			strconv.Itoa(outcome.Index),
			outcome.Term,
			outcome.Kind(),
			outcome.Err.Error(),
		})
	}
	if len(skipped) > 0 {
		fmt.Fprintln(out, renderTable("Skipped", []column{
			{header: "#", align: alignRight},
			{header: "Term"},
			{header: "Kind"},
			{header: "Error", maxWidth: 60},
		}, skipped))
	}
	fmt.Fprintf(out, "Run %s: %d of %d lookups succeeded, %d results\n",
		result.RunID, result.Succeeded, result.Total, len(result.Items))
}
