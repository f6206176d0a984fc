package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/djlord-it/sitepulse/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sitepulse",
		Short: "sitepulse - business-hours aware fleet scheduler",
		Long: `sitepulse decides, for every site in a fleet, whether a recurring activity
should run now, catch up, wait for opening time or be skipped, and hands
runnable sites to the execution runtime exactly once.

Environment Variables:
  CONFIG_FILE               Optional YAML file with any key below plus 'activities'
  STORE_DRIVER              postgres | sqlite | memory (default: "postgres")
  DATABASE_URL              PostgreSQL connection string
  SQLITE_PATH               SQLite database file (default: "sitepulse.db")
  DIRECTORY                 file | postgres (default: "file")
  SITES_FILE                Site directory YAML (default: "sites.yaml")
  REDIS_ADDR                Redis address for report analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  TICK_INTERVAL             Cadence check interval (default: "1m")
  SCHEDULER_WORKERS         Concurrent site evaluations per tick (default: "8")

  DISPATCH_MODE             webhook | log (default: "log")
  DISPATCH_URL              Runtime intake URL (webhook mode)
  DISPATCH_SECRET           HMAC secret for X-Sitepulse-Signature
  DISPATCH_RATE             Dispatches per second, 0 = unlimited (default: "0")
  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening, 0 = off (default: "5")

  SWEEP_ENABLED             Periodic stuck-execution sweep (default: "true")
  LEADER_ELECTION           Postgres advisory-lock leader election (default: "false")
  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  LOG_LEVEL                 debug | info | warn | error (default: "info")
  LOG_FORMAT                json | console (default: "json")
  FALLBACK_START/END        Fallback window for sites without hours today (default: 08:00-16:00)
  FALLBACK_WEEKEND          Days the fallback never runs (default: "sat,sun")
  SKIP_CLOSED_DAYS          Skip configured sites on days without hours (default: false)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newVersionCmd(),
		newEvaluateCmd(),
	)
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadValidConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return invalidConfig(err)
			}
			data, err := cfg.MaskedJSON()
			if err != nil {
				return errors.Wrap(err, "marshal config")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sitepulse version %s (commit: %s)\n", version, commit)
		},
	}
}

func loadValidConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, invalidConfig(err)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, invalidConfig(errors.Wrap(err, "configuration error"))
	}
	return cfg, nil
}
