// Package cmd implements the labelsel command line interface
package cmd

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/labelsel/internal/config"
	"github.com/ngld/labelsel/internal/logging"
	"github.com/ngld/labelsel/pkg/selector"
)

// ErrNoMatch is returned by the match command if the labels don't match the selector
var ErrNoMatch = eris.New("no match")

// app holds the state shared by all subcommands. It's filled in by the root command's PersistentPreRunE.
type app struct {
	configFile string
	logLevel   string
	jsonLog    bool

	cfg    *config.Config
	cache  *selector.Cache
	logger zerolog.Logger
}

// extraCommands collects subcommands which depend on build tags
var extraCommands []func(*app) *cobra.Command

func (a *app) setup(cmd *cobra.Command) error {
	files := make([]string, 0, 1)
	if a.configFile != "" {
		if _, err := os.Stat(a.configFile); err != nil {
			return eris.Wrapf(err, "failed to open config file %s", a.configFile)
		}
		files = append(files, a.configFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("json-log") {
		cfg.Log.JSON = a.jsonLog
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.cache = selector.NewCache(cfg.Cache.Size)
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.LogLevel(), cfg.Log.JSON, cfg.Log.Debug)
	return nil
}

// context returns the command's context with the configured logger attached
func (a *app) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return logging.WithLogger(ctx, &a.logger)
}

// NewRootCmd builds the labelsel command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "labelsel",
		Short: "Parses and evaluates label selectors",
		Long: `labelsel parses label selectors like "app=web,tier in (fe,be),!canary",
checks label sets against them and converts them to Kubernetes label selectors.
It also runs the developer tasks declared in the nearest tasks.star file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is "+config.DefaultFile+" if it exists)")
	flags.StringVar(&a.logLevel, "log-level", "info", "minimum log level (trace, debug, info, warn, error)")
	flags.BoolVar(&a.jsonLog, "json-log", false, "write log events as JSON lines")

	rootCmd.AddCommand(newParseCmd(a), newMatchCmd(a), newTaskCmd(a))
	for _, build := range extraCommands {
		rootCmd.AddCommand(build(a))
	}

	return rootCmd
}

// Execute runs the CLI and exits with a non-zero status on failure
func Execute() {
	err := NewRootCmd().ExecuteContext(context.Background())
	if err != nil {
		if eris.Is(err, ErrNoMatch) {
			os.Exit(1)
		}
		cobra.CheckErr(err)
	}
}
