package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// job mirrors the job snapshot returned by GET /api/v1/jobs/:job_id.
type job struct {
	ID       string `json:"job_id"`
	DocID    string `json:"doc_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Attempts int    `json:"attempts"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

func (j job) terminal() bool { return j.Status == "done" || j.Status == "failed" }

func newProjectCmd() *cobra.Command {
	project := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	project.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a project namespace",
		Long: `Create the namespace for --project ahead of the first ingestion.
Creating an existing project succeeds.

Examples:
  ragctl project create --tenant acme --project handbook`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(); err != nil {
				return err
			}
			var resp struct {
				Namespace string `json:"namespace"`
			}
			path := fmt.Sprintf("/api/v1/tenants/%s/projects", tenantID)
			if err := doJSON(http.MethodPost, path, map[string]string{"project_id": projectID}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project ready: %s\n", resp.Namespace)
			return nil
		},
	})
	return project
}

func newIngestCmd() *cobra.Command {
	var (
		docID string
		title string
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a document from a file or stdin",
		Long: `Queue a document for ingestion. Re-ingesting a doc ID replaces the
previous version.

Examples:
  # Ingest a file; doc ID defaults to the file name
  ragctl ingest -t acme -p handbook onboarding.md

  # Ingest from stdin and wait for the job to finish
  cat notes.txt | ragctl ingest -t acme -p handbook --doc-id notes --wait -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(); err != nil {
				return err
			}

			var (
				content []byte
				err     error
			)
			if len(args) == 0 || args[0] == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
			} else {
				content, err = os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read file %s: %w", args[0], err)
				}
				if docID == "" {
					docID = filepath.Base(args[0])
				}
			}
			if docID == "" {
				return fmt.Errorf("--doc-id is required when reading stdin")
			}

			var queued struct {
				JobID  string `json:"job_id"`
				Status string `json:"status"`
			}
			body := map[string]string{"doc_id": docID, "title": title, "content": string(content)}
			if err := doJSON(http.MethodPost, projectPath("/documents"), body, &queued); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", queued.JobID, queued.Status)

			if !wait {
				return nil
			}
			j, err := waitForJob(queued.JobID, 500*time.Millisecond)
			if err != nil {
				return err
			}
			if j.Status == "failed" {
				return fmt.Errorf("ingestion failed after %d attempt(s): %s", j.Attempts, j.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s: %d chunk(s)\n", j.DocID, j.Chunks)
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "document ID (default: file name)")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the ingestion job to finish")
	return cmd
}

func waitForJob(id string, interval time.Duration) (job, error) {
	for {
		var j job
		if err := doJSON(http.MethodGet, "/api/v1/jobs/"+id, nil, &j); err != nil {
			return j, err
		}
		if j.terminal() {
			return j, nil
		}
		time.Sleep(interval)
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete every chunk of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(); err != nil {
				return err
			}
			if err := doJSON(http.MethodDelete, projectPath("/documents/"+args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newRetrieveCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve the contexts most relevant to a query",
		Long: `Retrieve the contexts most relevant to a query.

Examples:
  ragctl retrieve -t acme -p handbook "how do I request leave?"
  ragctl retrieve -t acme -p handbook --limit 5 --json "expense policy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(); err != nil {
				return err
			}
			var resp struct {
				Contexts []struct {
					Title   string  `json:"title"`
					Content string  `json:"content"`
					Score   float32 `json:"score"`
				} `json:"contexts"`
				Fallback string `json:"fallback,omitempty"`
			}
			body := map[string]any{"query": strings.Join(args, " "), "limit": limit}
			if err := doJSON(http.MethodPost, projectPath("/retrieve"), body, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, resp)
			}
			if len(resp.Contexts) == 0 {
				fmt.Fprintln(out, resp.Fallback)
				return nil
			}
			for i, c := range resp.Contexts {
				fmt.Fprintf(out, "[%d] %s (score %.3f)\n%s\n\n", i+1, c.Title, c.Score, c.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum contexts (default: server top-k)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show an ingestion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var j job
			if err := doJSON(http.MethodGet, "/api/v1/jobs/"+args[0], nil, &j); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <job-id>",
		Short: "Follow an ingestion job until it finishes",
		Long: `Stream the job's progress events. Requires ragd to run with NATS.

Examples:
  ragctl events 3f2b9c4e-8d1a-4c55-9f0e-2b7a6d1c9e10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := serverURL + "/api/v1/jobs/" + args[0] + "/events"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")
			if tenantID != "" {
				req.Header.Set("X-Tenant-ID", tenantID)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", url, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				raw, _ := io.ReadAll(resp.Body)
				return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
			}

			out := cmd.OutOrStdout()
			var event string
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case strings.HasPrefix(line, "event: "):
					event = strings.TrimPrefix(line, "event: ")
				case strings.HasPrefix(line, "data: "):
					fmt.Fprintf(out, "%-10s %s\n", event, strings.TrimPrefix(line, "data: "))
				}
			}
			return scanner.Err()
		},
	}
}
