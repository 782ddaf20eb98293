package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/cjdnsniff/internal/admin"
)

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List UpperDistributor handlers",
	Long: `Ask the cjdns admin interface which UDP ports are registered as
handlers for which content types.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			exitWithError("failed to load config", err)
		}
		ac, err := cfg.Admin.ResolveAdmin()
		if err != nil {
			exitWithError("failed to resolve admin endpoint", err)
		}
		client, err := admin.Dial(ac)
		if err != nil {
			exitWithError("failed to connect to cjdns admin", err)
		}
		defer client.Close()

		if err := runHandlers(context.Background(), client, handlersPage, os.Stdout); err != nil {
			exitWithError("failed to list handlers", err)
		}
	},
}

var handlersPage int

func init() {
	handlersCmd.Flags().IntVarP(&handlersPage, "page", "p", 0, "result page")
}

func runHandlers(ctx context.Context, lister HandlerLister, page int, w io.Writer) error {
	reply, err := lister.ListHandlers(ctx, page)
	if err != nil {
		return err
	}
	if reply.Error != admin.StatusOK {
		return fmt.Errorf("admin returned %q", reply.Error)
	}
	if len(reply.Handlers) == 0 {
		fmt.Fprintln(w, "no handlers registered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTENT TYPE\tCODE\tUDP PORT")
	for _, h := range reply.Handlers {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", h.ContentType, uint32(h.ContentType), h.UDPPort)
	}
	return tw.Flush()
}
