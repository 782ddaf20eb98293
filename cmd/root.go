// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/cjdnsniff/internal/config"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cjdnsniff",
	Short: "cjdnsniff - watch traffic handed out by the cjdns UpperDistributor",
	Long: `cjdnsniff attaches to a running cjdns node through its admin interface,
claims a handler port for one content type and prints every frame the node
forwards to it.

Commands:
  dump      negotiate a handler and print traffic until interrupted
  handlers  list the handlers currently registered with the distributor
  status    show the state of a running dump
  stop      ask a running dump to disconnect and exit
  config    print the effective configuration`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and CJDNSNIFF_* env when empty)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"control socket path (overrides control.socket)")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(handlersCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads --config and applies --socket.
func loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Control.Socket = socketPath
	}
	return cfg, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
