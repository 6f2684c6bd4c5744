package http

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// handleCreateProject creates the project's namespace ahead of the first
// ingestion. Creating an existing project succeeds.
func (s *Server) handleCreateProject(c echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
	}

	scope, err := tenant.New(c.Param("tenant_id"), req.ProjectID)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.projects.EnsureProject(c.Request().Context(), scope); err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusCreated, ProjectResponse{
		TenantID:  scope.TenantID,
		ProjectID: scope.ProjectID,
		Namespace: scope.Namespace(),
	})
}

// handleIngest queues a document and answers 202 with the job ID.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
	}

	doc := rag.Document{
		Scope:   pathScope(c),
		ID:      req.DocID,
		Title:   req.Title,
		Content: req.Content,
	}
	job, err := s.ingestion.Submit(c.Request().Context(), doc)
	if err != nil {
		return s.fail(c, err)
	}

	s.logger.Debug(c.Request().Context(), "ingestion queued",
		zap.String("job_id", job.ID),
		zap.String("doc_id", doc.ID),
		zap.Int("content_bytes", len(doc.Content)))

	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/jobs/"+job.ID)
	return c.JSON(http.StatusAccepted, IngestResponse{JobID: job.ID, Status: job.Status})
}

// handleDeleteDocument removes every chunk of a document.
func (s *Server) handleDeleteDocument(c echo.Context) error {
	if err := s.projects.Delete(c.Request().Context(), pathScope(c), c.Param("doc_id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleRetrieve returns the contexts most relevant to the query.
func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
	}

	items, err := s.retrieval.Retrieve(c.Request().Context(), pathScope(c), req.Query, req.Limit)
	if err != nil {
		return s.fail(c, err)
	}

	resp := RetrieveResponse{Contexts: items}
	if len(items) == 0 {
		resp.Contexts = []rag.ContextItem{}
		resp.Fallback = rag.FallbackResponse
	}
	return c.JSON(http.StatusOK, resp)
}

// handleGetJob returns a job snapshot.
func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.ingestion.Get(c.Param("job_id"))
	if err != nil {
		return s.fail(c, err)
	}
	if !visibleTo(c, job.Scope.TenantID) {
		return s.fail(c, jobs.ErrJobNotFound)
	}
	return c.JSON(http.StatusOK, job)
}
