package vectorstore

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// breaker trips after threshold consecutive transient failures and rejects
// calls until cooldown has passed since the last one. The first call after
// the cooldown is let through as a probe.
type breaker struct {
	backend   string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	last     time.Time
}

func newBreaker(backend string, threshold int, cooldown time.Duration) *breaker {
	return &breaker{backend: backend, threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if time.Since(b.last) > b.cooldown {
		b.failures = 0
		CircuitOpen.WithLabelValues(b.backend).Set(0)
		return true
	}
	return false
}

func (b *breaker) succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures >= b.threshold {
		CircuitOpen.WithLabelValues(b.backend).Set(0)
	}
	b.failures = 0
}

// fail records a transient failure and reports whether the breaker is now open.
func (b *breaker) fail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.last = time.Now()
	if b.failures >= b.threshold {
		CircuitOpen.WithLabelValues(b.backend).Set(1)
		return true
	}
	return false
}

// IsTransientError reports whether err is worth retrying: deadlines, network
// errors and the gRPC codes a healthy server recovers from.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}

func hasCode(err error, code codes.Code) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == code
}
