package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	ingestWait      bool
	ingestRecursive bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Upload files for background ingestion",
	Long: `Upload one or more files to a project. The server extracts, chunks and
embeds them in the background and returns a job id right away.

Directories are expanded to the regular files they contain; use
--recursive to include subdirectories.

Examples:
  docrag ingest -p handbook policy.pdf faq.md
  docrag ingest -p handbook ./docs --recursive --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "follow job progress until it finishes")
	ingestCmd.Flags().BoolVarP(&ingestRecursive, "recursive", "r", false, "descend into subdirectories")
}

func runIngest(cmd *cobra.Command, args []string) error {
	project, err := requireProject()
	if err != nil {
		return err
	}

	paths, err := collectFiles(args, ingestRecursive)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files found")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := apiClient.Upload(ctx, project, paths)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	fmt.Fprintf(out, "Job %s queued: %s\n", resp.JobID, resp.Message)
	if verbose {
		for _, p := range paths {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}

	if !ingestWait {
		fmt.Fprintf(out, "Use 'docrag jobs %s' to check status.\n", resp.JobID)
		return nil
	}
	return followJob(ctx, apiClient, resp.JobID)
}

// collectFiles expands directories into the regular files below them.
func collectFiles(args []string, recursive bool) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && (!recursive || isHidden(d.Name())) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && !isHidden(d.Name()) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return paths, nil
}

func isHidden(name string) bool {
	return len(name) > 1 && name[0] == '.'
}
