package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var askOutputFile string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and get an answer grounded in a project's documents",
	Long: `Ask a question about a project's documents. The server retrieves the
most relevant chunks and asks the LLM to answer from them, citing sources
as [Source N].

Examples:
  docrag ask -p handbook "How many vacation days do I get?"
  docrag ask -p handbook "Summarize the travel policy" -o travel.md`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write output to file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	project, err := requireProject()
	if err != nil {
		return err
	}

	answer, err := apiClient.Chat(context.Background(), project, args[0])
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	var b strings.Builder
	b.WriteString(answer.Response)
	b.WriteString("\n")
	if len(answer.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for _, s := range answer.Sources {
			fmt.Fprintf(&b, "  [%s] %s (%.0f%%)\n", s.Label, s.DocumentName, s.Relevance*100)
			if verbose {
				fmt.Fprintf(&b, "      %s\n", preview(s.Snippet, 120))
			}
		}
	}

	if askOutputFile != "" {
		if err := os.WriteFile(askOutputFile, []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(out, "Wrote answer to %s\n", askOutputFile)
		return nil
	}

	fmt.Fprint(out, b.String())
	return nil
}
