package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/anonchat/edgeworker/internal/app"
	"github.com/anonchat/edgeworker/internal/config"
	"github.com/spf13/cobra"
)

var queueJSON bool

func init() {
	queueListCmd.Flags().BoolVar(&queueJSON, "json", false, "print messages as JSON")
	queueCmd.AddCommand(queueListCmd)
	rootCmd.AddCommand(queueCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline message queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages waiting for replay",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Storage.Driver == config.DriverMemory {
			return fmt.Errorf("storage driver %q keeps no durable queue", cfg.Storage.Driver)
		}

		msgs, err := app.ListQueued(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		if queueJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(msgs)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSESSION\tENQUEUED\tRETRIES")
		for _, m := range msgs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
				m.ID, m.SessionID, time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339), m.RetryCount)
		}
		return tw.Flush()
	},
}
