package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/cjdnsniff/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load the configuration file, environment overrides and defaults, validate
them and print the result as YAML. Passwords are masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
		if err := writeConfig(cfg, os.Stdout); err != nil {
			exitWithError("failed to print config", err)
		}
	},
}

func writeConfig(cfg *config.GlobalConfig, w io.Writer) error {
	masked := *cfg
	if masked.Admin.Password != "" {
		masked.Admin.Password = "********"
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]*config.GlobalConfig{"cjdnsniff": &masked})
}
