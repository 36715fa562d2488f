package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bz/internal/bugzilla"
	"github.com/joescharf/bz/internal/output"
	"github.com/joescharf/bz/internal/store"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log [bug-id]",
	Short: "Show the local log of updates sent to Bugzilla",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref string
		if len(args) > 0 {
			ref = args[0]
		}
		return logRun(cmd.Context(), ref)
	},
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "Maximum number of entries (0 for all)")
	rootCmd.AddCommand(logCmd)
}

func logRun(ctx context.Context, ref string) error {
	var bugID int
	if ref != "" {
		id, err := bugzilla.ParseID(ref)
		if err != nil {
			return err
		}
		bugID = id
	}

	st, err := getStore()
	if err != nil {
		return err
	}
	records, err := st.ListUpdates(ctx, bugID, logLimit)
	if err != nil {
		return fmt.Errorf("list updates: %w", err)
	}
	if len(records) == 0 {
		ui.Info("No updates logged")
		return nil
	}

	table := ui.Table([]string{"When", "Bug", "Kind", "Changes"})
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			payload = []byte(fmt.Sprint(rec.Payload))
		}
		_ = table.Append([]string{
			rec.CreatedAt.Local().Format(time.DateTime),
			fmt.Sprint(rec.BugID),
			kindColor(rec.Kind),
			truncate(string(payload), 60),
		})
	}
	_ = table.Render()
	return nil
}

func kindColor(kind string) string {
	switch kind {
	case store.KindCreate, store.KindClone:
		return output.Green(kind)
	case store.KindUpdate:
		return output.Yellow(kind)
	default:
		return output.Cyan(kind)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
