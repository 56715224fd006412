// Command valreg-mcp runs the MCP tool server for snapshot comparison.
// Uses stdio transport for integration with AI assistants.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valreg/valreg-go/internal/mcpserver"
)

var version = "dev"

func main() {
	root := flag.String("root", "", "restrict tool paths to this directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "valreg",
		Version: version,
	}, nil)
	mcpserver.RegisterTools(server, mcpserver.Options{Root: *root})

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
