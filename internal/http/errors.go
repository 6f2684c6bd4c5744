package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("invalid request body")

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, rag.ErrInvalidDocument),
		errors.Is(err, rag.ErrInvalidQuery),
		errors.Is(err, tenant.ErrInvalidTenantID),
		errors.Is(err, tenant.ErrInvalidProjectID):
		return http.StatusBadRequest
	case errors.Is(err, tenant.ErrScopeMismatch):
		return http.StatusForbidden
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrQueueFull),
		errors.Is(err, jobs.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, embeddings.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, vectorstore.ErrIndex):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse. Internal errors are logged and
// their details withheld from the client.
func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	ctx := c.Request().Context()

	switch {
	case status == http.StatusInternalServerError:
		s.logger.Error(ctx, "request failed", zap.Error(err))
		msg = "internal error"
	case status >= 500:
		s.logger.Warn(ctx, "request failed", zap.Int("status", status), zap.Error(err))
	default:
		s.logger.Debug(ctx, "request rejected", zap.Int("status", status), zap.Error(err))
	}

	if status == http.StatusServiceUnavailable && errors.Is(err, jobs.ErrQueueFull) {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, ErrorResponse{Error: msg})
}
