package main

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightning-dev/lightning/internal/config"
	"github.com/lightning-dev/lightning/internal/dev"
)

type devFlags struct {
	port        int
	host        string
	root        string
	entry       string
	watch       string
	debounce    time.Duration
	metricsAddr string
	verbose     bool
}

func devCmd() *cobra.Command {
	return newDevCmd(&devFlags{})
}

func newDevCmd(flags *devFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server with live reload.

Configuration is read from lightning.yaml in the project root, then
from LIGHTNING_* environment variables, then from flags.

Examples:
  lightning dev
  lightning dev --port=8080
  lightning dev --root=./site --watch=html,css
  lightning dev --metrics-addr=localhost:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd, flags.overrides(cmd), flags.verbose)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&flags.port, "port", "p", config.DefaultPort, "Port to listen on")
	f.StringVarP(&flags.host, "host", "H", config.DefaultHost, "Host to bind to")
	f.StringVarP(&flags.root, "root", "r", "", "Project directory (default: current directory)")
	f.StringVarP(&flags.entry, "entry", "e", config.DefaultEntry, "File served for /")
	f.StringVarP(&flags.watch, "watch", "w", "", "Comma-separated extensions that trigger a reload")
	f.DurationVar(&flags.debounce, "debounce", config.DefaultDebounce, "Quiet period before a reload is sent")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

// overrides maps explicitly set flags onto config overrides so that flag
// defaults never shadow lightning.yaml or the environment.
func (f *devFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	set := cmd.Flags().Changed

	if set("port") {
		o.Port = &f.port
	}
	if set("host") {
		o.Host = &f.host
	}
	if set("root") {
		o.Root = &f.root
	}
	if set("entry") {
		o.Entry = &f.entry
	}
	if set("watch") {
		o.WatchExtensions = &f.watch
	}
	if set("debounce") {
		o.Debounce = &f.debounce
	}
	if set("metrics-addr") {
		o.MetricsAddr = &f.metricsAddr
	}
	return o
}

func runDev(cmd *cobra.Command, overrides config.Overrides, verbose bool) error {
	cfg, err := config.Load(config.LoadOptions{Overrides: overrides})
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	server := dev.NewServer(dev.ServerOptions{
		Config: cfg,
		Logger: logger,
		Stdout: cmd.OutOrStdout(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}
