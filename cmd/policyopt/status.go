package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/policyopt/internal/server"
	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), serverURL+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var errNotFound = errors.New("not found")

func listJobs(w io.Writer, url string) error {
	var jobs []server.Job
	if err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATE\tFUNCTION\tOPTIMIZER\tITERATIONS\tOBJECTIVE")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.6g\n",
			job.ID,
			job.State,
			job.Config.Function,
			job.Config.Optimizer,
			job.Iterations,
			job.Objective,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nFound %d job(s)\n", len(jobs))
	return nil
}

func getJobStatus(w io.Writer, url, jobID string) error {
	var status struct {
		server.Job
		Elapsed float64 `json:"elapsed"`
	}
	if err := getJSON(url, &status); errors.Is(err, errNotFound) {
		return fmt.Errorf("job not found: %s", jobID)
	} else if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	if status.ResumedFrom != "" {
		fmt.Fprintf(w, "Resumed from: %s\n", status.ResumedFrom)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Function: %s\n", status.Config.Function)
	fmt.Fprintf(w, "  Optimizer: %s\n", status.Config.Optimizer)
	if status.Config.DataPath != "" {
		fmt.Fprintf(w, "  Data: %s\n", status.Config.DataPath)
	}
	fmt.Fprintf(w, "  Seed: %d\n", status.Config.Seed)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Shape: %dx%d\n", status.Rows, status.Cols)
	fmt.Fprintf(w, "  Iterations: %d\n", status.Iterations)
	fmt.Fprintf(w, "  Initial Objective: %.6g\n", status.InitialObjective)
	fmt.Fprintf(w, "  Objective: %.6g\n", status.Objective)
	if status.InitialObjective != 0 {
		improvement := status.InitialObjective - status.Objective
		fmt.Fprintf(w, "  Improvement: %.6g (%.1f%%)\n", improvement, improvement/status.InitialObjective*100)
	}
	if status.State.Finished() {
		fmt.Fprintf(w, "  Status: %s\n", status.Status)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}
	return nil
}
