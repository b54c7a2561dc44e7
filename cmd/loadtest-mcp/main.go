// Load-test MCP server. Exposes run history and wallet pool inspection
// tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/midl-xyz/load-test/internal/mcp"
	"github.com/midl-xyz/load-test/internal/storage"
	"github.com/midl-xyz/load-test/internal/wallet"
)

func main() {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/loadtest.db"
	}
	seedPath := os.Getenv("SEED_STORE_PATH")
	if seedPath == "" {
		seedPath = "./data/seeds.json"
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening run history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	s := server.NewMCPServer(
		"loadtest",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	mcptools.RegisterTools(s, mcptools.Deps{
		Storage: store,
		Seeds:   wallet.NewStore(seedPath, nil),
	})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
