package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docrag/internal/server"
	"github.com/spf13/cobra"
)

var (
	searchLimit    int
	searchNoRerank bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a project without answer synthesis",
	Long: `Search a project's documents with vector similarity. Larger candidate
sets are reranked by the LLM unless --no-rerank is given.

Use 'ask' for an answer with cited sources.

Examples:
  docrag search -p handbook "parental leave"
  docrag search -p handbook "vpn setup" -n 3 --no-rerank`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "max results (default: server setting)")
	searchCmd.Flags().BoolVar(&searchNoRerank, "no-rerank", false, "skip LLM reranking")
}

func runSearch(cmd *cobra.Command, args []string) error {
	project, err := requireProject()
	if err != nil {
		return err
	}

	req := server.SearchRequest{Text: args[0], K: searchLimit}
	if searchNoRerank {
		rerank := false
		req.Rerank = &rerank
	}

	results, err := apiClient.Search(context.Background(), project, req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s #%d (%.0f%%)\n", i+1, r.DocumentName, r.Position, r.Relevance*100)
		fmt.Fprintf(out, "   %s\n", preview(r.Content, 160))
		if verbose {
			fmt.Fprintf(out, "   chunk %s, score %s %.3f\n", r.ChunkID, r.Score.Kind, r.Score.Value)
		}
		fmt.Fprintln(out)
	}

	return nil
}

// preview collapses whitespace and cuts s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
