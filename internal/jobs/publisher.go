package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix roots every ingestion event subject.
const SubjectPrefix = "ragd.ingest"

// Subject returns the NATS subject for an event:
//
//	ragd.ingest.<tenant_id>.<project_id>.<job_id>.<event>
//
// Tenant and project IDs cannot contain '.', so each token is unambiguous.
func Subject(e Event) string {
	return strings.Join([]string{SubjectPrefix, e.TenantID, e.ProjectID, e.JobID, e.Name()}, ".")
}

// JobSubject matches every event of one job.
func JobSubject(j Job) string {
	return strings.Join([]string{SubjectPrefix, j.Scope.TenantID, j.Scope.ProjectID, j.ID, "*"}, ".")
}

// Publisher delivers job events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes events as JSON on core NATS.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher wraps an established connection. The caller keeps
// ownership of nc.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(Subject(e), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Name(), err)
	}
	return nil
}
