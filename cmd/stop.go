package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running dump",
	Long: `Ask a running cjdnsniff dump to disconnect gracefully.

The dump unregisters its handler if it registered one, closes its socket
and exits, exactly as on the first SIGINT.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStop(context.Background(), controlClient(), os.Stdout); err != nil {
			exitWithError("failed to stop dump", err)
		}
	},
}

func runStop(ctx context.Context, client ControlClient, w io.Writer) error {
	if err := client.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ Stop requested")
	return nil
}
