package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// HeaderTenantID carries the caller's tenant when an authenticating proxy
// sits in front of ragd. Requests whose header tenant differs from the path
// tenant are rejected with 403.
const HeaderTenantID = "X-Tenant-ID"

// requestContext attaches the request ID to the request context so every
// log line written while serving it is correlated.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		if logging.ValidRequestID(rid) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		}
		return next(c)
	}
}

// accessLog logs one line per request, after the handler ran so the
// tenant scope is included.
func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Int64("bytes", c.Response().Size),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// scopeFromPath validates the tenant and project path parameters and
// records the caller's scope on the request context.
func scopeFromPath(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID := c.Param("tenant_id")
		projectID := c.Param("project_id")
		if !tenant.ValidID(tenantID) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: tenant.ErrInvalidTenantID.Error()})
		}
		if projectID != "" && !tenant.ValidID(projectID) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: tenant.ErrInvalidProjectID.Error()})
		}

		active := tenant.Scope{TenantID: tenantID, ProjectID: projectID}
		if h := c.Request().Header.Get(HeaderTenantID); h != "" {
			active.TenantID = h
		}
		req := c.Request()
		c.SetRequest(req.WithContext(tenant.WithScope(req.Context(), active)))
		return next(c)
	}
}

// requestTimeout bounds the request context.
func requestTimeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// pathScope is the scope the request targets.
func pathScope(c echo.Context) tenant.Scope {
	return tenant.Scope{TenantID: c.Param("tenant_id"), ProjectID: c.Param("project_id")}
}

// visibleTo hides resources of other tenants from callers that
// identified themselves with HeaderTenantID.
func visibleTo(c echo.Context, owner string) bool {
	h := c.Request().Header.Get(HeaderTenantID)
	return h == "" || h == owner
}
