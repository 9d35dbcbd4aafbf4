package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ArxivDigest/internal/app"
	"ArxivDigest/internal/config"
	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/logging"
	"ArxivDigest/internal/usecase"
)

// Exit codes consumed by the external scheduler.
const (
	exitOK       = 0
	exitSkip     = 1
	exitInternal = 2
)

var (
	flagDate    string
	flagFrom    string
	flagTo      string
	flagWait    bool
	flagMaxWait time.Duration
	flagNoFail  bool
)

func main() {
	os.Exit(run())
}

func run() int {
	exitCode := exitOK

	rootCmd := &cobra.Command{
		Use:           "arxivdigest",
		Short:         "Two-phase batch enrichment pipeline for daily paper harvests",
		Long:          "arxivdigest submits daily harvested paper batches to an asynchronous completion API and later reconciles the results into enriched per-day record files.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagDate, "date", "", "day to process in YYYY-MM-DD format (default: today)")
	rootCmd.PersistentFlags().StringVar(&flagFrom, "from", "", "first day of a range in YYYY-MM-DD format")
	rootCmd.PersistentFlags().StringVar(&flagTo, "to", "", "last day of a range in YYYY-MM-DD format")

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Deduplicate a day against history and submit its batch job",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runSubmit(cmd)
			exitCode = code
			return err
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Poll a day's batch job and merge its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runReconcile(cmd)
			exitCode = code
			return err
		},
	}
	reconcileCmd.Flags().BoolVar(&flagWait, "wait", false, "poll until the job is terminal or the wait budget runs out")
	reconcileCmd.Flags().DurationVar(&flagMaxWait, "max-wait", 0, "override the configured wait budget (e.g. 30m)")
	reconcileCmd.Flags().BoolVar(&flagNoFail, "no-fail", false, "exit 0 when the job is not ready or not submitted yet")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the lifecycle state of every stored day",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runStatus(cmd)
			exitCode = code
			return err
		},
	}

	rootCmd.AddCommand(submitCmd, reconcileCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if exitCode == exitOK {
			exitCode = exitInternal
		}
	}

	return exitCode
}

func runSubmit(cmd *cobra.Command) (int, error) {
	days, err := requestedDays()
	if err != nil {
		return exitInternal, err
	}

	cfg := config.Load()
	application, err := app.New(cfg, app.Options{}, logging.New(cfg.Logging.Level))
	if err != nil {
		return exitInternal, err
	}
	defer application.Close()

	results := application.Coordinator().SubmitRange(cmd.Context(), days)
	printResults("submit", results)
	return rangeExitCode(results, false), nil
}

func runReconcile(cmd *cobra.Command) (int, error) {
	days, err := requestedDays()
	if err != nil {
		return exitInternal, err
	}

	cfg := config.Load()
	application, err := app.New(cfg, app.Options{Wait: flagWait, MaxWait: flagMaxWait}, logging.New(cfg.Logging.Level))
	if err != nil {
		return exitInternal, err
	}
	defer application.Close()

	results := application.Coordinator().ReconcileRange(cmd.Context(), days)
	printResults("reconcile", results)
	return rangeExitCode(results, flagNoFail), nil
}

func runStatus(cmd *cobra.Command) (int, error) {
	cfg := config.Load()
	application, err := app.New(cfg, app.Options{}, logging.New(cfg.Logging.Level))
	if err != nil {
		return exitInternal, err
	}
	defer application.Close()

	statuses, err := application.Status(cmd.Context())
	if err != nil {
		return exitInternal, err
	}

	for _, status := range statuses {
		line := fmt.Sprintf("%s\t%d records\t%s", status.Day, status.Records, status.State)
		if status.JobID != "" {
			line += "\tjob=" + status.JobID
		}
		if status.Indexed > 0 {
			line += fmt.Sprintf("\tindexed=%d", status.Indexed)
		}
		fmt.Println(line)
	}
	return exitOK, nil
}

// requestedDays resolves --date or --from/--to into an inclusive day list.
func requestedDays() ([]time.Time, error) {
	if flagFrom != "" || flagTo != "" {
		if flagFrom == "" || flagTo == "" {
			return nil, fmt.Errorf("--from and --to must be given together")
		}
		from, err := time.Parse(domain.DayFormat, flagFrom)
		if err != nil {
			return nil, fmt.Errorf("parse --from: %w", err)
		}
		to, err := time.Parse(domain.DayFormat, flagTo)
		if err != nil {
			return nil, fmt.Errorf("parse --to: %w", err)
		}
		if to.Before(from) {
			return nil, fmt.Errorf("--to is before --from")
		}

		var days []time.Time
		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			days = append(days, day)
		}
		return days, nil
	}

	if flagDate != "" {
		day, err := time.Parse(domain.DayFormat, flagDate)
		if err != nil {
			return nil, fmt.Errorf("parse --date: %w", err)
		}
		return []time.Time{day}, nil
	}

	now := time.Now().UTC()
	return []time.Time{time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)}, nil
}

func printResults(phase string, results []usecase.DayResult) {
	for _, result := range results {
		line := fmt.Sprintf("%s\t%s\t%s", result.Day.Format(domain.DayFormat), phase, result.Outcome)
		if result.Err != nil {
			line += "\t" + result.Err.Error()
		}
		fmt.Println(line)
	}
}

// rangeExitCode maps per-day outcomes onto the scheduler contract: 0 for
// success, 1 for skip-empty or hard failure, 2 for internal errors. With
// noFail, a not-ready or never-submitted day still exits 0 so periodic
// workflows keep retrying.
func rangeExitCode(results []usecase.DayResult, noFail bool) int {
	code := exitOK
	for _, result := range results {
		if result.Err == nil {
			continue
		}

		switch {
		case errors.Is(result.Err, domain.ErrSkipEmpty),
			errors.Is(result.Err, domain.ErrJobFailed):
			code = max(code, exitSkip)
		case errors.Is(result.Err, domain.ErrTimeout),
			errors.Is(result.Err, domain.ErrNotSubmitted):
			if !noFail {
				code = max(code, exitSkip)
			}
		default:
			var submission *domain.SubmissionError
			var reconciliation *domain.ReconciliationError
			if errors.As(result.Err, &submission) || errors.As(result.Err, &reconciliation) {
				code = max(code, exitSkip)
			} else {
				code = max(code, exitInternal)
			}
		}
	}
	return code
}
