package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the engine as an MCP server so automations and agents can drive
playbook sessions as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		baseURL, _ := cmd.Flags().GetString("base-url")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
			srv := mcp.NewServer(rt.Engine, rt.Logger)
			switch transport {
			case "stdio":
				rt.Logger.Info("starting MCP server", "transport", "stdio")
				return srv.ServeStdio()
			case "sse":
				rt.Logger.Info("starting MCP server", "transport", "sse", "addr", addr)
				if err := srv.ServeSSE(ctx, addr, baseURL); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				rt.Logger.Info("MCP server stopped gracefully")
				return nil
			default:
				return fmt.Errorf("unknown transport %q (supported: stdio, sse)", transport)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", ":8081", "Address to listen on (only for SSE)")
	mcpCmd.Flags().String("base-url", "", "Public base URL advertised to SSE clients")
}
