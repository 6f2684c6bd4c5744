package http

import (
	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/rag"
)

// CreateProjectRequest is the request body for POST /api/v1/tenants/:tenant_id/projects.
type CreateProjectRequest struct {
	ProjectID string `json:"project_id"`
}

// ProjectResponse describes a registered project.
type ProjectResponse struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
	Namespace string `json:"namespace"`
}

// IngestRequest is the request body for POST .../documents.
type IngestRequest struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// IngestResponse acknowledges a queued ingestion.
type IngestResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

// RetrieveRequest is the request body for POST .../retrieve.
// Limit <= 0 selects the configured top-k.
type RetrieveRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// RetrieveResponse carries retrieved contexts. Fallback is set when
// nothing relevant was found.
type RetrieveResponse struct {
	Contexts []rag.ContextItem `json:"contexts"`
	Fallback string            `json:"fallback,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response body for GET /ready.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
