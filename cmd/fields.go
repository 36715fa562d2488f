package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var fieldsRefresh bool

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the server's bug fields and their attribute names",
	Long: `List the field catalog reported by the server, with the attribute name
each field is addressed by in bz commands. The catalog is cached on disk
(cache.fields); --refresh fetches it again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fieldsRun(cmd.Context())
	},
}

func init() {
	fieldsCmd.Flags().BoolVar(&fieldsRefresh, "refresh", false, "Refetch the field catalog from the server")
	rootCmd.AddCommand(fieldsCmd)
}

func fieldsRun(ctx context.Context) error {
	schema, err := getSchema()
	if err != nil {
		return err
	}

	if fieldsRefresh {
		if fieldSource == nil {
			ui.Warning("Field cache is disabled; nothing to refresh")
		} else if dryRun {
			ui.DryRunMsg("Would refetch the field catalog from %s", serviceURL)
		} else {
			raw, err := fieldSource.Refresh(ctx)
			if err != nil {
				return err
			}
			ui.Success("Refreshed %d fields", len(raw))
		}
	}

	fields, err := schema.Fields(ctx)
	if err != nil {
		return fmt.Errorf("load fields: %w", err)
	}
	m, err := schema.AttributeMap(ctx)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Attribute", "Field", "Display Name", "Type", "Custom", "Timestamp"})
	for _, f := range fields {
		attr, _ := m.Local(f.Name)
		_ = table.Append([]string{
			attr,
			f.Name,
			f.DisplayName,
			strconv.Itoa(int(f.Type)),
			yesNo(f.IsCustom),
			yesNo(m.IsTimestamp(f.Name)),
		})
	}
	_ = table.Render()
	ui.VerboseLog("%d fields from %s", len(fields), serviceURL)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
