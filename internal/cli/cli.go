package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vk/stagegrid/internal/app"
	"github.com/vk/stagegrid/internal/registry"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Exit codes of the stagegrid binary.
const (
	ExitFailure   = 1
	ExitUsage     = 2
	ExitCancelled = 130
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath      string
	definitionsPath string
	dbPath          string
	listenAddr      string
	logLevel        string
	logFormat       string
	maxInFlight     int
	cancelTimeout   time.Duration
	dispatchPolicy  string
	watch           bool
}

// Execute builds the command tree and runs it with args. Output, including
// help text, goes to outW. modules overrides the compiled-in executor modules.
func Execute(ctx context.Context, args []string, outW io.Writer, modules ...registry.Module) error {
	root := NewRootCommand(outW, modules...)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand returns the stagegrid command tree.
func NewRootCommand(outW io.Writer, modules ...registry.Module) *cobra.Command {
	if len(modules) == 0 {
		modules = app.CoreModules()
	}
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "stagegrid",
		Short: "stagegrid - a minimal CI/CD pipeline orchestrator.",
		Long: `stagegrid runs declarative pipeline definitions: a graph of stages with
typed parameters, conditions and concurrency groups, executed with dependency
ordering and tracked through to completion, failure or cancellation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file.")
	pf.StringVarP(&flags.definitionsPath, "definitions", "d", "", "Path to a .hcl file or a directory of definitions.")
	pf.StringVar(&flags.dbPath, "db", "", "SQLite file for run records. Empty keeps records in memory.")
	pf.StringVar(&flags.listenAddr, "listen", "", "HTTP listen address, e.g. ':8080'.")
	pf.StringVar(&flags.logLevel, "log-level", "", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log output format. Options: 'text' or 'json'.")
	pf.IntVar(&flags.maxInFlight, "max-in-flight", 0, "Cap on concurrently running stages per run. 0 is unbounded.")
	pf.DurationVar(&flags.cancelTimeout, "cancel-timeout", 0, "How long to wait for a superseded run to drain.")
	pf.StringVar(&flags.dispatchPolicy, "dispatch-policy", "", "Order of simultaneously ready stages: 'declaration' or 'lexical'.")
	pf.BoolVar(&flags.watch, "watch", false, "Reload definitions when .hcl files change (serve only).")

	root.AddCommand(
		newServeCommand(flags, modules),
		newRunCommand(flags, modules),
		newValidateCommand(flags, modules),
	)
	return root
}

// resolveConfig merges defaults, the optional config file and the flags
// that were set explicitly, in that order.
func resolveConfig(cmd *cobra.Command, flags *globalFlags) (*app.Config, error) {
	cfg := app.DefaultConfig()
	if flags.configPath != "" {
		if err := app.LoadConfigFile(flags.configPath, &cfg); err != nil {
			return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
		}
	}

	pf := cmd.Flags()
	if pf.Changed("definitions") {
		cfg.DefinitionsPath = flags.definitionsPath
	}
	if pf.Changed("db") {
		cfg.DBPath = flags.dbPath
	}
	if pf.Changed("listen") {
		cfg.ListenAddr = flags.listenAddr
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if pf.Changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	if pf.Changed("max-in-flight") {
		cfg.MaxInFlight = flags.maxInFlight
	}
	if pf.Changed("cancel-timeout") {
		cfg.CancelTimeout = flags.cancelTimeout
	}
	if pf.Changed("dispatch-policy") {
		cfg.DispatchPolicy = flags.dispatchPolicy
	}
	if pf.Changed("watch") {
		cfg.WatchDefinitions = flags.watch
	}

	valid, err := app.NewConfig(cfg)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("CLI configuration resolved.", "definitions", valid.DefinitionsPath, "db", valid.DBPath)
	return valid, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
