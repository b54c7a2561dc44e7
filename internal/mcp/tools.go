package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/midl-xyz/load-test/internal/storage"
	"github.com/midl-xyz/load-test/internal/wallet"
)

// Deps are the data sources the tools read from. Everything here is
// read-only; no tool mutates state or submits anything.
type Deps struct {
	Storage storage.Storage
	Seeds   *wallet.Store
}

// RegisterTools registers all harness tools on the MCP server.
func RegisterTools(s *server.MCPServer, deps Deps) {
	registerListRuns(s, deps)
	registerRunDetail(s, deps)
	registerRunResults(s, deps)
	registerPoolSummary(s, deps)
}

func registerListRuns(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("loadtest_runs",
		gomcp.WithDescription("List recent load-test runs: mode, wallet count, outcome, throughput."),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum runs to return (default 10)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		runs, err := deps.Storage.ListRuns(ctx, limit, 0)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Listing runs failed: %v", err)), nil
		}
		if len(runs) == 0 {
			return gomcp.NewToolResultText("No runs recorded yet."), nil
		}

		lines := []string{section("Recent Runs")}
		for _, run := range runs {
			summary := run.Status
			if run.Stats != nil {
				summary = fmt.Sprintf("%s, %d/%d succeeded, %.1f ops/s",
					run.Status, run.Stats.Succeeded, run.Stats.Total, run.Stats.OpsPerSec)
			}
			lines = append(lines, fmt.Sprintf("- %s  [%s]  %d wallets  (%s) — %s",
				run.ID, run.Mode, run.Wallets,
				run.StartedAt.Format(time.RFC3339), summary))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func registerRunDetail(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("loadtest_run",
		gomcp.WithDescription("Get one run's full statistics: counts, latency, throughput, errors."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		run, err := deps.Storage.GetRun(ctx, id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Fetching run failed: %v", err)), nil
		}
		if run == nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run %s not found", id)), nil
		}

		lines := []string{
			section("Run " + run.ID),
			kv("Mode", run.Mode),
			kv("Status", run.Status),
			kv("Wallets", run.Wallets),
			kv("Started", run.StartedAt.Format(time.RFC3339)),
		}
		if !run.CompletedAt.IsZero() {
			lines = append(lines, kv("Completed", run.CompletedAt.Format(time.RFC3339)))
		}
		if run.ErrorMsg != "" {
			lines = append(lines, kv("Error", run.ErrorMsg))
		}
		if stats := run.Stats; stats != nil {
			successRate := 0.0
			if stats.Total > 0 {
				successRate = float64(stats.Succeeded) / float64(stats.Total)
			}
			lines = append(lines,
				"",
				section("Statistics"),
				kv("Total", stats.Total),
				kv("Succeeded", stats.Succeeded),
				kv("Failed", stats.Failed),
				kv("Success rate", formatPct(successRate)),
				kv("Latency min", formatMs(stats.MinMs)),
				kv("Latency avg", formatMs(stats.AvgMs)),
				kv("Latency max", formatMs(stats.MaxMs)),
				kv("Throughput", fmt.Sprintf("%.1f ops/s", stats.OpsPerSec)),
			)
			for _, e := range stats.Errors {
				lines = append(lines, "- "+e)
			}
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func registerRunResults(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("loadtest_run_results",
		gomcp.WithDescription("List per-wallet pipeline outcomes for one run."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum results to return (default 50)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		limit := req.GetInt("limit", 50)

		results, err := deps.Storage.GetResults(ctx, id, limit, 0)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Fetching results failed: %v", err)), nil
		}
		if len(results) == 0 {
			return gomcp.NewToolResultText(fmt.Sprintf("No results recorded for run %s.", id)), nil
		}

		lines := []string{section("Pipeline Results")}
		for _, r := range results {
			outcome := "ok"
			if !r.Success {
				outcome = "failed: " + r.Err
			}
			lines = append(lines, fmt.Sprintf("- %s  %s  %s",
				r.Wallet, formatMs(float64(r.Elapsed.Milliseconds())), outcome))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func registerPoolSummary(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("loadtest_pool",
		gomcp.WithDescription("Summarize the persisted wallet pool: seed count and derived accounts."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		seeds := deps.Seeds.LoadAll()

		lines := []string{
			section("Wallet Pool"),
			kv("Seeds", len(seeds)),
		}
		for i, seed := range seeds {
			w, err := wallet.FromSeed(seed)
			if err != nil {
				lines = append(lines, fmt.Sprintf("- #%d  (unreadable seed)", i))
				continue
			}
			lines = append(lines, fmt.Sprintf("- #%d  %s", i, w.Account()))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}
