package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/bz/internal/mcp"
	"github.com/joescharf/bz/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent read and edit bugs through the configured Bugzilla
connection. Configure the agent with:

  {
    "mcpServers": {
      "bz": { "command": "bz", "args": ["mcp"] }
    }
  }

Available tools: bz_get_bug, bz_search_bugs, bz_update_bug,
bz_add_comment, bz_list_fields`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := getSchema()
		if err != nil {
			return err
		}

		// Updates are logged when the store opens; the server runs without it.
		var st store.Store
		if s, err := getStore(); err != nil {
			logger.Warn("update log unavailable", "error", err)
		} else {
			st = s
		}

		srv := mcp.NewServer(schema, st, serviceURL, buildVersion, logger)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
