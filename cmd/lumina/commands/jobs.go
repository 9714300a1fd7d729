package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/irjudson/lumina/internal/database"
)

// NewJobsCommand groups the job management subcommands.
func NewJobsCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "lumina server URL")

	cmd.AddCommand(newJobsListCommand(&serverURL))
	cmd.AddCommand(newJobsGetCommand(&serverURL))
	cmd.AddCommand(newJobsSubmitCommand(&serverURL))
	cmd.AddCommand(newJobsCancelCommand(&serverURL))
	return cmd
}

func newJobsListCommand(serverURL *string) *cobra.Command {
	var catalogID, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newAPIClient(*serverURL).listJobs(catalogID, status)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No jobs.")
				return nil
			}
			renderJobsTable(os.Stdout, list)
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogID, "catalog", "", "only jobs for this catalog")
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status")
	return cmd
}

func newJobsGetCommand(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newAPIClient(*serverURL).getJob(args[0])
			if err != nil {
				return err
			}
			renderJobDetail(os.Stdout, job)
			if job.Status == database.JobStatusFailed {
				return fmt.Errorf("job %s failed", job.ID)
			}
			return nil
		},
	}
}

func newJobsSubmitCommand(serverURL *string) *cobra.Command {
	var catalogID, paramsJSON string
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit <job-type>",
		Short: "Submit a job",
		Long: `Submit a job by type, for example:

  lumina jobs submit scan --catalog <id>
  lumina jobs submit detect_duplicates --catalog <id> --params '{"similarity_threshold": 8}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params map[string]interface{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parse --params: %w", err)
				}
			}

			client := newAPIClient(*serverURL)
			job, err := client.submitJob(args[0], catalogID, params)
			if err != nil {
				return err
			}
			fmt.Printf("Submitted job %s\n", job.ID)

			if !wait {
				return nil
			}
			final, err := tailJob(client, job.ID)
			if err != nil {
				return err
			}
			renderJobDetail(os.Stdout, final)
			if final.Status != database.JobStatusSuccess {
				return fmt.Errorf("job finished with status %s", final.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogID, "catalog", "", "catalog the job operates on")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "job parameters as a JSON object")
	cmd.Flags().BoolVar(&wait, "wait", false, "tail the job until it finishes")
	return cmd
}

func newJobsCancelCommand(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newAPIClient(*serverURL).cancelJob(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Job %s is now %s\n", job.ID, job.Status)
			return nil
		},
	}
}
