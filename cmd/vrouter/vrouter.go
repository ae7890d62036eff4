package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"team21/dvrouter/pkg/lnxconfig"
	"team21/dvrouter/pkg/logging"
	"team21/dvrouter/pkg/router"
)

var (
	configFile string
	logFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "vrouter [config]",
	Short: "Run one distance-vector router",
	Long: `vrouter loads a router configuration, binds its control port and data port
(control port + 1000) and exchanges distance vectors with its neighbors until
interrupted. Protocol events are printed to stdout.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			configFile = args[0]
		}
		if configFile == "" {
			return errors.New("config file path is required")
		}
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the router config file")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "also append diagnostics to this file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics")
}

func run(ctx context.Context) error {
	cfg, err := lnxconfig.ParseConfig(configFile)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log, closeLog, err := logging.New(os.Stderr, logging.Options{
		RouterId: cfg.RouterId,
		Level:    level,
		LogPath:  logFile,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	r, err := router.New(cfg, router.Options{Out: os.Stdout, Log: log})
	if err != nil {
		return err
	}
	if err := r.Listen(); err != nil {
		return err
	}
	log.Info("router up", "self", cfg.SelfIp, "port", cfg.ListenPort, "neighbors", len(cfg.Neighbors))
	return r.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("vrouter failed", "err", err)
		stop()
		os.Exit(1)
	}
}
