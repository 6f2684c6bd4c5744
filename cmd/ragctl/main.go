// Package main implements ragctl, a CLI for the ragd HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the ragd HTTP server
	serverURL string
	tenantID  string
	projectID string
	// version information
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragctl",
		Short: "CLI for ragd HTTP server operations",
		Long: `ragctl is a command-line interface for the ragd retrieval service.
It ingests and deletes documents, runs retrieval queries and follows
ingestion jobs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&serverURL, "server", envOr("RAGD_SERVER", "http://localhost:9090"), "ragd server URL")
	flags.StringVarP(&tenantID, "tenant", "t", os.Getenv("RAGD_TENANT"), "tenant ID")
	flags.StringVarP(&projectID, "project", "p", os.Getenv("RAGD_PROJECT"), "project ID")

	root.AddCommand(
		newHealthCmd(),
		newProjectCmd(),
		newIngestCmd(),
		newDeleteCmd(),
		newRetrieveCmd(),
		newStatusCmd(),
		newEventsCmd(),
	)
	return root
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// apiError is a non-2xx response from ragd.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

var errScopeRequired = errors.New("--tenant and --project are required")

func requireScope() error {
	if tenantID == "" || projectID == "" {
		return errScopeRequired
	}
	return nil
}

func projectPath(suffix string) string {
	return fmt.Sprintf("/api/v1/tenants/%s/projects/%s%s", tenantID, projectID, suffix)
}

// doJSON sends body as JSON and decodes a JSON response into out, which
// may be nil.
func doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		msg := string(raw)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ragd server readiness",
		Long: `Check the readiness of the ragd server and its backing services.

Examples:
  ragctl health
  ragctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ready struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			err := doJSON(http.MethodGet, "/ready", nil, &ready)
			var apiErr *apiError
			if err != nil && !errors.As(err, &apiErr) {
				return err
			}
			if apiErr != nil {
				// 503 still carries the per-check report
				if jsonErr := json.Unmarshal([]byte(apiErr.Message), &ready); jsonErr != nil || ready.Status == "" {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", ready.Status)
			names := make([]string, 0, len(ready.Checks))
			for name := range ready.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", name, ready.Checks[name])
			}
			if apiErr != nil {
				return fmt.Errorf("server not ready")
			}
			return nil
		},
	}
}
