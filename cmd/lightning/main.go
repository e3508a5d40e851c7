package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lightning-dev/lightning/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err to f, without colors unless f is a terminal.
func reportError(f *os.File, err error) {
	if !term.IsTerminal(int(f.Fd())) {
		errors.DisableColors()
	}
	errors.PrintError(f, err)
}

func newRootCmd() *cobra.Command {
	dev := devCmd()

	rootCmd := &cobra.Command{
		Use:   "lightning",
		Short: "Live-reloading development server for static web projects",
		Long: `Lightning serves a project directory over HTTP and reloads
connected browsers when files change.

HTML pages are served with a small client script that keeps a
WebSocket open to the server. Stylesheet-only changes are applied
in place; everything else reloads the page.

Running lightning without a subcommand is the same as "lightning dev".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          dev.RunE,
	}

	// The bare command accepts the dev flags.
	rootCmd.Flags().AddFlagSet(dev.Flags())

	rootCmd.AddCommand(
		dev,
		versionCmd(),
	)

	return rootCmd
}
