package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/irjudson/lumina/internal/database"
)

// NewScanCommand builds the one-shot scan command: it creates an
// ad-hoc catalog for a directory, submits a scan, and tails the job
// until it finishes.
func NewScanCommand() *cobra.Command {
	var serverURL string
	var thumbnails bool

	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "Scan a directory into a new catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(newAPIClient(serverURL), args[0], thumbnails)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "lumina server URL")
	cmd.Flags().BoolVar(&thumbnails, "thumbnails", false, "generate thumbnails while scanning")
	return cmd
}

func runScan(client *apiClient, dir string, thumbnails bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	// Catalog names are unique, so stamp the ad-hoc one.
	name := fmt.Sprintf("%s-%s", filepath.Base(abs), time.Now().Format("20060102-150405"))
	cat, err := client.createCatalog(name, []string{abs})
	if err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	fmt.Printf("Created catalog %s (%s)\n", cat.Name, cat.ID)

	params := map[string]interface{}{}
	if thumbnails {
		params["generate_thumbnail"] = true
	}
	job, err := client.submitJob("scan", cat.ID, params)
	if err != nil {
		return fmt.Errorf("submit scan: %w", err)
	}
	fmt.Printf("Scanning as job %s\n", job.ID)

	final, err := tailJob(client, job.ID)
	if err != nil {
		return err
	}

	renderJobDetail(os.Stdout, final)
	if final.Status != database.JobStatusSuccess {
		return fmt.Errorf("scan finished with status %s", final.Status)
	}
	return nil
}

// tailJob polls a job until it reaches a terminal status, printing a
// single progress line in place.
func tailJob(client *apiClient, jobID string) (*database.Job, error) {
	for {
		job, err := client.getJob(jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case database.JobStatusSuccess, database.JobStatusFailed, database.JobStatusCancelled:
			fmt.Println()
			return job, nil
		}

		if tail, err := client.progress(jobID, 1); err == nil && len(tail) > 0 {
			p := tail[len(tail)-1]
			line := fmt.Sprintf("%s: %d/%d", p.Phase, p.Processed, p.Total)
			if p.Errors > 0 {
				line += fmt.Sprintf(" (%d errors)", p.Errors)
			}
			if p.RatePerSec > 0 {
				line += fmt.Sprintf("  %.1f items/s", p.RatePerSec)
			}
			if p.ETASeconds > 0 {
				eta := time.Duration(p.ETASeconds * float64(time.Second)).Round(time.Second)
				line += fmt.Sprintf("  ~%s left", eta)
			}
			fmt.Printf("\r%-78s", line)
		}

		time.Sleep(500 * time.Millisecond)
	}
}
