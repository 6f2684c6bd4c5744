package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/ragd/internal/jobs"
)

// handleJobEvents streams job progress via Server-Sent Events.
//
// The stream opens with the job's current state, relays every event
// published for the job on NATS, and closes after a done or failed event
// or when the client disconnects.
//
//	GET /api/v1/jobs/{job_id}/events
//
//	event: queued
//	data: {"job_id":"...","status":"queued",...}
//
//	event: embedded
//	data: {"job_id":"...","status":"running","stage":"embedded",...}
//
//	event: done
//	data: {"job_id":"...","status":"done","chunks":3,...}
func (s *Server) handleJobEvents(c echo.Context) error {
	if s.events == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "job events are not enabled"})
	}

	job, err := s.ingestion.Get(c.Param("job_id"))
	if err != nil {
		return s.fail(c, err)
	}
	if !visibleTo(c, job.Scope.TenantID) {
		return s.fail(c, jobs.ErrJobNotFound)
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := s.events.ChanSubscribe(jobs.JobSubject(job), msgs)
	if err != nil {
		return s.fail(c, fmt.Errorf("subscribing to job events: %w", err))
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	// Snapshot after subscribing so no transition falls in between.
	if current, err := s.ingestion.Get(job.ID); err == nil {
		job = current
	}
	snapshot := jobs.EventFor(job)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	writeEvent(w, snapshot.Name(), data)
	if job.Status.Terminal() {
		return nil
	}

	ticker := time.NewTicker(s.config.EventHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			name := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
			writeEvent(w, name, msg.Data)
			if name == string(jobs.StatusDone) || name == string(jobs.StatusFailed) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func writeEvent(w *echo.Response, name string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", name)
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
}
