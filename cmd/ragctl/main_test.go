package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRagd records requests and answers with canned ragd responses.
type fakeRagd struct {
	mu       sync.Mutex
	requests []recorded
	polls    int
	ready    bool
}

type recorded struct {
	Method string
	Path   string
	Tenant string
	Body   map[string]any
}

func newFakeRagd(t *testing.T) (*fakeRagd, *httptest.Server) {
	t.Helper()
	f := &fakeRagd{ready: true}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRagd) serve(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Tenant: r.Header.Get("X-Tenant-ID")}
	_ = json.NewDecoder(r.Body).Decode(&rec.Body)

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	ready := f.ready
	f.mu.Unlock()

	reply := func(status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}

	switch {
	case r.URL.Path == "/ready" && ready:
		reply(http.StatusOK, `{"status":"ok","checks":{"vectorstore":"ok","cache":"ok"}}`)
	case r.URL.Path == "/ready":
		reply(http.StatusServiceUnavailable, `{"status":"unavailable","checks":{"vectorstore":"connection refused","cache":"ok"}}`)
	case r.URL.Path == "/api/v1/tenants/acme/projects":
		reply(http.StatusCreated, `{"tenant_id":"acme","project_id":"handbook","namespace":"acme_handbook"}`)
	case r.URL.Path == "/api/v1/tenants/acme/projects/handbook/documents" && r.Method == http.MethodPost:
		reply(http.StatusAccepted, `{"job_id":"job-1","status":"queued"}`)
	case r.URL.Path == "/api/v1/tenants/acme/projects/handbook/documents/faq" && r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/api/v1/tenants/acme/projects/handbook/retrieve":
		if rec.Body["query"] == "nothing" {
			reply(http.StatusOK, `{"contexts":[],"fallback":"No relevant context found."}`)
			return
		}
		reply(http.StatusOK, `{"contexts":[{"title":"FAQ","content":"Leave is requested in the portal.","score":0.91}]}`)
	case r.URL.Path == "/api/v1/tenants/globex/projects/handbook/retrieve":
		reply(http.StatusForbidden, `{"error":"tenant mismatch"}`)
	case r.URL.Path == "/api/v1/jobs/job-1":
		f.mu.Lock()
		f.polls++
		polls := f.polls
		f.mu.Unlock()
		if polls < 2 {
			reply(http.StatusOK, `{"job_id":"job-1","doc_id":"faq","status":"running","stage":"chunked","attempts":1}`)
			return
		}
		reply(http.StatusOK, `{"job_id":"job-1","doc_id":"faq","status":"done","attempts":1,"chunks":4}`)
	case r.URL.Path == "/api/v1/jobs/job-1/events":
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: queued\ndata: {\"status\":\"queued\"}\n\n")
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: done\ndata: {\"status\":\"done\",\"chunks\":4}\n\n")
	default:
		reply(http.StatusNotFound, `{"error":"not found"}`)
	}
}

func (f *fakeRagd) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// run executes ragctl with args against srv and returns its output.
func run(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RAGD_SERVER", "")
	t.Setenv("RAGD_TENANT", "")
	t.Setenv("RAGD_PROJECT", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestHealth(t *testing.T) {
	f, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "health")
	require.NoError(t, err)
	assert.Equal(t, "Server Status: ok\n  cache: ok\n  vectorstore: ok\n", out)

	f.mu.Lock()
	f.ready = false
	f.mu.Unlock()

	out, err = run(t, srv, "", "health")
	require.Error(t, err)
	assert.Contains(t, out, "Server Status: unavailable")
	assert.Contains(t, out, "vectorstore: connection refused")
}

func TestProjectCreate(t *testing.T) {
	f, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "project", "create", "-t", "acme", "-p", "handbook")
	require.NoError(t, err)
	assert.Contains(t, out, "Project ready: acme_handbook")

	req := f.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "acme", req.Tenant)
	assert.Equal(t, "handbook", req.Body["project_id"])
}

func TestScopeRequired(t *testing.T) {
	_, srv := newFakeRagd(t)

	for _, args := range [][]string{
		{"project", "create"},
		{"ingest", "--doc-id", "x", "-"},
		{"delete", "faq", "-t", "acme"},
		{"retrieve", "query", "-p", "handbook"},
	} {
		_, err := run(t, srv, "", args...)
		assert.ErrorIs(t, err, errScopeRequired, "args %v", args)
	}
}

func TestIngest_File(t *testing.T) {
	f, srv := newFakeRagd(t)
	path := filepath.Join(t.TempDir(), "faq")
	require.NoError(t, os.WriteFile(path, []byte("Leave is requested in the portal."), 0o600))

	out, err := run(t, srv, "", "ingest", "-t", "acme", "-p", "handbook", "--title", "FAQ", path)
	require.NoError(t, err)
	assert.Equal(t, "Job job-1 queued\n", out)

	req := f.last()
	assert.Equal(t, "faq", req.Body["doc_id"])
	assert.Equal(t, "FAQ", req.Body["title"])
	assert.Equal(t, "Leave is requested in the portal.", req.Body["content"])
}

func TestIngest_StdinWait(t *testing.T) {
	f, srv := newFakeRagd(t)

	out, err := run(t, srv, "from stdin", "ingest", "-t", "acme", "-p", "handbook", "--doc-id", "faq", "--wait", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Job job-1 queued")
	assert.Contains(t, out, "Ingested faq: 4 chunk(s)")

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "from stdin", f.requests[0].Body["content"])
	assert.Equal(t, 2, f.polls)
}

func TestIngest_StdinNeedsDocID(t *testing.T) {
	_, srv := newFakeRagd(t)

	_, err := run(t, srv, "text", "ingest", "-t", "acme", "-p", "handbook")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--doc-id")
}

func TestIngest_MissingFile(t *testing.T) {
	_, srv := newFakeRagd(t)

	_, err := run(t, srv, "", "ingest", "-t", "acme", "-p", "handbook", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file")
}

func TestDelete(t *testing.T) {
	f, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "delete", "faq", "-t", "acme", "-p", "handbook")
	require.NoError(t, err)
	assert.Equal(t, "Deleted faq\n", out)
	assert.Equal(t, http.MethodDelete, f.last().Method)
}

func TestRetrieve(t *testing.T) {
	f, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "retrieve", "-t", "acme", "-p", "handbook", "-n", "2", "how", "do", "I", "request", "leave?")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] FAQ (score 0.910)")
	assert.Contains(t, out, "Leave is requested in the portal.")

	req := f.last()
	assert.Equal(t, "how do I request leave?", req.Body["query"])
	assert.EqualValues(t, 2, req.Body["limit"])
}

func TestRetrieve_Fallback(t *testing.T) {
	_, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "retrieve", "-t", "acme", "-p", "handbook", "nothing")
	require.NoError(t, err)
	assert.Equal(t, "No relevant context found.\n", out)
}

func TestRetrieve_JSON(t *testing.T) {
	_, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "retrieve", "-t", "acme", "-p", "handbook", "--json", "leave")
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp["contexts"], 1)
}

func TestRetrieve_APIError(t *testing.T) {
	_, srv := newFakeRagd(t)

	_, err := run(t, srv, "", "retrieve", "-t", "globex", "-p", "handbook", "leave")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "tenant mismatch", apiErr.Message)
}

func TestStatus(t *testing.T) {
	_, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "status", "job-1", "-t", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "running"`)
	assert.Contains(t, out, `"stage": "chunked"`)

	_, err = run(t, srv, "", "status", "job-404")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestEvents(t *testing.T) {
	_, srv := newFakeRagd(t)

	out, err := run(t, srv, "", "events", "job-1", "-t", "acme")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "queued"))
	assert.True(t, strings.HasPrefix(lines[1], "done"))
	assert.Contains(t, lines[1], `"chunks":4`)
}

func TestEvents_NotFound(t *testing.T) {
	_, srv := newFakeRagd(t)

	_, err := run(t, srv, "", "events", "job-404")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
