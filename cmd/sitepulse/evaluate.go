package main

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/djlord-it/sitepulse/internal/activity"
	"github.com/djlord-it/sitepulse/internal/config"
	"github.com/djlord-it/sitepulse/internal/directory"
	"github.com/djlord-it/sitepulse/internal/dispatcher"
	"github.com/djlord-it/sitepulse/internal/logging"
	"github.com/djlord-it/sitepulse/internal/priority"
	"github.com/djlord-it/sitepulse/internal/reaper"
	"github.com/djlord-it/sitepulse/internal/scheduler"
	"github.com/djlord-it/sitepulse/internal/store/memory"
	"github.com/djlord-it/sitepulse/internal/timing"
)

type evaluateOptions struct {
	activity  string
	at        string
	sitesFile string
}

func newEvaluateCmd() *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one dry tick for an activity and print the report as JSON",
		Long: `evaluate reads the site directory file, runs a single tick of one activity
against an empty in-memory ledger and prints the tick report. Nothing is
dispatched: runnable sites are only logged.`,
		Example: `  sitepulse evaluate --activity daily_report
  sitepulse evaluate --activity daily_report --at 2024-06-22T10:15:00-06:00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return invalidConfig(err)
			}
			report, err := evaluate(cmd, cfg, opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVar(&opts.activity, "activity", "", "activity key to evaluate")
	cmd.Flags().StringVar(&opts.at, "at", "", "evaluation instant in RFC3339 (default: now)")
	cmd.Flags().StringVar(&opts.sitesFile, "sites", "", "site directory file (default: SITES_FILE)")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func evaluate(cmd *cobra.Command, cfg config.Config, opts evaluateOptions) (scheduler.Report, error) {
	now := time.Now()
	if opts.at != "" {
		t, err := time.Parse(time.RFC3339, opts.at)
		if err != nil {
			return scheduler.Report{}, errors.WithHint(errors.Wrap(err, "parse --at"), "use RFC3339, e.g. 2024-06-22T10:15:00-06:00")
		}
		now = t
	}

	table, err := activity.NewTable(cfg.Policies())
	if err != nil {
		return scheduler.Report{}, invalidConfig(err)
	}
	policy, ok := table.Lookup(opts.activity)
	if !ok {
		return scheduler.Report{}, errors.Newf("unknown activity %q", opts.activity)
	}

	fallback, err := cfg.Fallback()
	if err != nil {
		return scheduler.Report{}, invalidConfig(err)
	}

	// Logs go to stderr so stdout stays valid JSON.
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return scheduler.Report{}, invalidConfig(err)
	}
	defer func() { _ = logger.Sync() }()

	sitesFile := opts.sitesFile
	if sitesFile == "" {
		sitesFile = cfg.SitesFile
	}

	st := memory.New()
	sched := scheduler.New(
		scheduler.Config{Workers: cfg.SchedulerWorkers},
		scheduler.Deps{
			Directory:  directory.NewFileSource(sitesFile, logger),
			Store:      st,
			Reaper:     reaper.New(st, logger),
			Engine:     timing.New(fallback),
			Assigner:   priority.NewAssigner(),
			Dispatcher: dispatcher.NewLogDispatcher(logger),
		},
		logger,
	)

	return sched.Tick(cmd.Context(), policy, now)
}
