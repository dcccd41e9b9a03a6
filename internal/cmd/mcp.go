package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tejjnayak/sandchat/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose a running server as MCP tools over stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout that forwards tool
calls (chat, sessions, audit, knowledge, artifacts) to a running sandchat
server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setupClient(cmd)
		if err != nil {
			return err
		}
		return mcp.Serve(c)
	},
}
