package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/spf13/cobra"
)

var (
	jobsStatus string
	jobsLimit  int
	jobsAll    bool
	jobsWatch  bool
	purgeDays  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List your ingestion jobs or inspect a specific job by ID.

Examples:
  docrag jobs                    # List your recent jobs
  docrag jobs --status failed    # Only failed jobs
  docrag jobs abc123             # Show details for job abc123
  docrag jobs abc123 --watch     # Follow a running job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs older than a number of days",
	Long: `Delete completed and failed jobs older than --days. Pending and
processing jobs are never purged. Without --days the server's retention
setting applies.`,
	Args: cobra.NoArgs,
	RunE: runJobsPurge,
}

func init() {
	jobsCmd.Flags().StringVarP(&jobsStatus, "status", "s", "", "filter by status (pending, processing, completed, failed)")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 10, "max jobs")
	jobsCmd.Flags().BoolVar(&jobsAll, "all", false, "list jobs of every user")
	jobsCmd.Flags().BoolVarP(&jobsWatch, "watch", "w", false, "follow the job until it finishes")

	jobsPurgeCmd.Flags().IntVar(&purgeDays, "days", 0, "age threshold in days (default: server retention)")
	jobsCmd.AddCommand(jobsPurgeCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		if jobsWatch {
			return followJob(ctx, apiClient, args[0])
		}
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	filter := models.JobFilter{
		Project: projectID,
		Status:  models.JobStatus(jobsStatus),
		Limit:   jobsLimit,
	}
	if !jobsAll {
		filter.User = userID
	}

	jobs, err := apiClient.ListJobs(ctx, filter)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-38s %-16s %-12s %-10s %s\n", "ID", "PROJECT", "STATUS", "PROGRESS", "CREATED")
	fmt.Fprintln(out, "--------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		p := job.Progress
		progress := fmt.Sprintf("%d/%d", p.ProcessedFiles, p.TotalFiles)
		fmt.Fprintf(out, "%-38s %-16s %-12s %-10s %s\n",
			job.JobID, job.ProjectID, job.Status, progress, job.CreatedAt.Local().Format("2006-01-02 15:04"))
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.JobStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Fprintf(out, "Job: %s\n", job.JobID)
	fmt.Fprintf(out, "  Project: %s\n", job.ProjectID)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	fmt.Fprintf(out, "  Progress: %.1f%%\n", job.Progress.Percentage)
	fmt.Fprintf(out, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.Metadata.StartedAt != nil {
		fmt.Fprintf(out, "  Started: %s\n", job.Metadata.StartedAt.Format(time.RFC3339))
	}
	if job.Metadata.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.Metadata.CompletedAt.Format(time.RFC3339))
		if job.Metadata.StartedAt != nil {
			duration := job.Metadata.CompletedAt.Sub(*job.Metadata.StartedAt)
			fmt.Fprintf(out, "  Duration: %s\n", duration.Round(time.Second))
		}
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error: %s\n", *job.ErrorMessage)
	}

	if verbose {
		fmt.Fprintln(out, "\nFiles:")
		for _, f := range job.Metadata.Files {
			fmt.Fprintf(out, "  %s (%d bytes, %s)\n", f.Filename, f.Size, f.ContentType)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, summarize(job))

	return nil
}

func runJobsPurge(cmd *cobra.Command, args []string) error {
	n, err := apiClient.PurgeJobs(context.Background(), purgeDays)
	if err != nil {
		return fmt.Errorf("purge jobs: %w", err)
	}
	fmt.Fprintf(out, "Deleted %d jobs\n", n)
	return nil
}
