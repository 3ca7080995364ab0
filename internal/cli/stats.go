package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show the server's runtime statistics: operation timings, token usage
and job counters since the last restart. With --project the document and
chunk counts of that project are shown as well.

Examples:
  docrag stats
  docrag stats -p handbook`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if projectID != "" {
		ps, err := apiClient.ProjectStats(ctx, projectID)
		if err != nil {
			return fmt.Errorf("get project stats: %w", err)
		}
		fmt.Fprintf(out, "Project %s: %d documents, %d chunks\n\n", ps.ProjectID, ps.Documents, ps.Chunks)
	}

	stats, err := apiClient.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *metrics.Snapshot) {
	fmt.Fprintf(out, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(out, "Uptime: %.1f seconds\n", stats.UptimeSeconds)

	ops := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"Embeddings", stats.Embedding},
		{"Completion", stats.Completion},
		{"Rerank", stats.Rerank},
		{"Vector Search", stats.VectorSearch},
		{"Extraction", stats.Extraction},
		{"File Ingestion", stats.IngestFile},
	}
	for _, o := range ops {
		if o.op == nil {
			continue
		}
		fmt.Fprintf(out, "\n%s:\n", o.name)
		printOpStats(o.op)
		printTokenStats(o.op)
	}

	if len(stats.Counters) > 0 {
		fmt.Fprintf(out, "\nCounters:\n")
		names := make([]string, 0, len(stats.Counters))
		for name := range stats.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-18s %d\n", name, stats.Counters[name])
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Fprintf(out, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(out, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Fprintf(out, "  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Fprintf(out, ", avg %.0f", *op.AvgInputTokens)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Fprintf(out, ", avg %.0f", *op.AvgOutputTokens)
	}
	fmt.Fprintln(out)
}
