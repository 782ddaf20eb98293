package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/config"
	"firestige.xyz/cjdnsniff/internal/daemon"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [CONTENT_TYPE]",
	Short: "Print traffic of one content type",
	Long: `Negotiate a handler port for CONTENT_TYPE (default: session.content_type,
normally CTRL) and print one line per frame on stdout.

The first SIGINT or SIGTERM unregisters the handler (when this process
registered it) and exits 0. A second signal exits 100 immediately.

Examples:
  cjdnsniff dump
  cjdnsniff dump CJDHT
  cjdnsniff dump --network udp4 --bind 127.0.0.1 IPTUN`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDump(args); err != nil {
			slog.Error("dump failed", "error", err)
			os.Exit(1)
		}
	},
}

var (
	dumpNetwork string
	dumpBind    string
	dumpPattern string
	noControl   bool
)

func init() {
	dumpCmd.Flags().StringVar(&dumpNetwork, "network", "", "bind network: udp, udp4 or udp6")
	dumpCmd.Flags().StringVar(&dumpBind, "bind", "", "local address handler sockets bind to")
	dumpCmd.Flags().StringVar(&dumpPattern, "pattern", "", "capture line pattern (%time %level %field %msg %n)")
	dumpCmd.Flags().BoolVar(&noControl, "no-control", false, "do not serve the control socket")
}

func runDump(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyDumpFlags(cfg, args); err != nil {
		return err
	}

	d := daemon.NewWithConfig(cfg)
	if err := d.Start(); err != nil {
		return err
	}

	err = d.Run()
	if errors.Is(err, daemon.ErrForced) {
		os.Exit(daemon.ExitForced)
	}
	return err
}

// applyDumpFlags layers the positional content type and dump flags over cfg.
func applyDumpFlags(cfg *config.GlobalConfig, args []string) error {
	if len(args) == 1 {
		name := strings.ToUpper(args[0])
		if _, err := cjdnshdr.ContentTypeByName(name); err != nil {
			return err
		}
		cfg.Session.ContentType = name
	}
	if dumpNetwork != "" {
		cfg.Session.Network = dumpNetwork
	}
	if dumpBind != "" {
		cfg.Session.BindHost = dumpBind
	}
	if dumpPattern != "" {
		cfg.Dump.Pattern = dumpPattern
	}
	if noControl {
		cfg.Control.Enabled = false
	}
	return cfg.ValidateAndApplyDefaults()
}
