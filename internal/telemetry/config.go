package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrInvalidConfig is returned by New for an unusable Config.
var ErrInvalidConfig = errors.New("invalid telemetry config")

// Protocols accepted by Config.Protocol.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config selects what is exported and where.
type Config struct {
	Enabled bool

	// Endpoint is the collector's host:port. A scheme is tolerated for
	// ProtocolHTTP.
	Endpoint string
	Protocol string
	Insecure bool

	ServiceName    string
	ServiceVersion string

	// SampleRate is the fraction of root spans recorded. Child spans follow
	// their parent.
	SampleRate float64

	MetricInterval  time.Duration
	ExportLogs      bool
	ShutdownTimeout time.Duration
}

// DefaultConfig returns settings for a collector on localhost. Export is
// off until Enabled is set.
func DefaultConfig() Config {
	return Config{
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		Insecure:        true,
		ServiceName:     "ragd",
		ServiceVersion:  "dev",
		SampleRate:      1,
		MetricInterval:  15 * time.Second,
		ExportLogs:      true,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks c. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var problems []string
	if c.Endpoint == "" {
		problems = append(problems, "endpoint is required")
	}
	if c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		problems = append(problems, fmt.Sprintf("protocol must be %s or %s, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol))
	}
	if c.ServiceName == "" {
		problems = append(problems, "service name is required")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		problems = append(problems, fmt.Sprintf("sample rate %v outside [0, 1]", c.SampleRate))
	}
	if c.MetricInterval <= 0 {
		problems = append(problems, "metric interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, "shutdown timeout must be positive")
	}
	// plaintext export is only allowed on the loopback interface
	if c.Insecure && c.Endpoint != "" && !isLoopback(c.Endpoint) {
		problems = append(problems, fmt.Sprintf("insecure export to non-local endpoint %q", c.Endpoint))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// isLoopback reports whether endpoint names localhost or a loopback IP.
func isLoopback(endpoint string) bool {
	host := hostOnly(stripScheme(endpoint))
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}

// stripScheme turns a URL into the host:port the OTLP exporters expect.
func stripScheme(endpoint string) string {
	if _, rest, ok := strings.Cut(endpoint, "://"); ok {
		endpoint = rest
	}
	return strings.TrimSuffix(endpoint, "/")
}
