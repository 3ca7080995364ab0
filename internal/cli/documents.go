package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteForce bool

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List a project's documents",
	Long: `List the documents of a project with their chunk counts.

Examples:
  docrag documents -p handbook
  docrag documents delete <document-id>`,
	Args: cobra.NoArgs,
	RunE: runListDocuments,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and its chunks",
	Long: `Delete a document. Its chunks and stored content are removed with it.
Requires confirmation unless --force is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeleteDocument,
}

func init() {
	documentsDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
	documentsCmd.AddCommand(documentsDeleteCmd)
}

func runListDocuments(cmd *cobra.Command, args []string) error {
	project, err := requireProject()
	if err != nil {
		return err
	}

	docs, err := apiClient.ListDocuments(context.Background(), project)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found")
		return nil
	}

	fmt.Fprintf(out, "%-38s %-32s %-6s %10s %7s\n", "ID", "NAME", "TYPE", "SIZE", "CHUNKS")
	for _, d := range docs {
		fmt.Fprintf(out, "%-38s %-32s %-6s %10d %7d\n", d.ID, preview(d.Name, 32), d.FileType, d.Size, d.ChunkCount)
	}
	return nil
}

func runDeleteDocument(cmd *cobra.Command, args []string) error {
	id := args[0]

	if !deleteForce {
		fmt.Fprintf(out, "About to delete document %s and all of its chunks.\n", id)
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := apiClient.DeleteDocument(context.Background(), id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	fmt.Fprintf(out, "Deleted: %s\n", id)
	return nil
}
