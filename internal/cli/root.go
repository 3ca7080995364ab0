// Package cli provides the command-line interface for docrag.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/docrag/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	userID    string
	projectID string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Document ingestion and retrieval client",
	Long: `docrag uploads documents to a docrag server for background ingestion
and queries them with hybrid vector search and grounded answers.

The server address is taken from --server, DOCRAG_SERVER_URL or
http://localhost:8484.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			userID = os.Getenv("DOCRAG_USER")
		}
		if projectID == "" {
			projectID = os.Getenv("DOCRAG_PROJECT")
		}
		apiClient = client.New(serverURL, client.WithUser(userID))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id sent with requests (env DOCRAG_USER)")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "project id (env DOCRAG_PROJECT)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(statsCmd)
}

// requireProject returns the selected project or an error naming the flag.
func requireProject() (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("project is required (use --project or DOCRAG_PROJECT)")
	}
	return projectID, nil
}

// out is where commands print. Tests swap it for a buffer.
var out io.Writer = os.Stdout
