package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"firestige.xyz/cjdnsniff/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running dump",
	Long: `Query a running cjdnsniff dump over its control socket.

Shows: content type, handler port, whether the handler is owned, session
state, uptime and traffic counters.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := controlClient()
		if err := runStatus(context.Background(), client, os.Stdout); err != nil {
			exitWithError("failed to query status", err)
		}
	},
}

// controlClient returns a client for the configured control socket.
func controlClient() *command.UDSClient {
	cfg, err := loadConfig()
	if err != nil {
		exitWithError("failed to load config", err)
	}
	return command.NewUDSClient(cfg.Control.Socket, 10*time.Second)
}

func runStatus(ctx context.Context, client ControlClient, w io.Writer) error {
	st, err := client.SessionStatus(ctx)
	if err != nil {
		return err
	}

	owner := "reused"
	if st.Registered {
		owner = "registered"
	}
	uptime := time.Duration(st.UptimeSeconds) * time.Second

	fmt.Fprintf(w, "pid:          %d\n", st.PID)
	fmt.Fprintf(w, "state:        %s\n", st.State)
	fmt.Fprintf(w, "content type: %s\n", st.ContentType)
	fmt.Fprintf(w, "port:         %d (%s)\n", st.Port, owner)
	fmt.Fprintf(w, "uptime:       %s\n", uptime)
	fmt.Fprintf(w, "received:     %s datagrams, %s\n",
		humanize.Comma(int64(st.Stats.Received)), humanize.Bytes(st.Stats.BytesReceived))
	fmt.Fprintf(w, "decoded:      %s messages, %s errors\n",
		humanize.Comma(int64(st.Stats.Messages)), humanize.Comma(int64(st.Stats.Errors)))
	fmt.Fprintf(w, "sent:         %s frames, %s\n",
		humanize.Comma(int64(st.Stats.Sent)), humanize.Bytes(st.Stats.BytesSent))
	if st.Stats.LastSource != "" {
		fmt.Fprintf(w, "last packet:  from %s to %s on %s\n",
			st.Stats.LastSource, orDash(st.Stats.LastDestination), orDash(st.Stats.LastInterface))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
