// Package config provides configuration loading for ragd.
//
// Configuration is assembled from defaults, an optional YAML file and the
// environment, in that order of increasing precedence. See Load.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete ragd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Cache       CacheConfig       `koanf:"cache"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Events      EventsConfig      `koanf:"events"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RequestTimeout  Duration `koanf:"request_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
	EventHeartbeat  Duration `koanf:"event_heartbeat"`
}

// ChunkerConfig holds chunking parameters, counted in characters.
type ChunkerConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	TopK int `koanf:"top_k"`

	// Rerank reorders Candidates search hits by query term overlap before
	// the top_k cut.
	Rerank       bool    `koanf:"rerank"`
	Candidates   int     `koanf:"candidates"`
	RerankWeight float32 `koanf:"rerank_weight"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Backend           string   `koanf:"backend"` // redis, memory or none
	URL               Secret   `koanf:"url"`
	TTL               Duration `koanf:"ttl"`
	MaxEntries        int      `koanf:"max_entries"`
	Timeout           Duration `koanf:"timeout"`
	InvalidateOnWrite bool     `koanf:"invalidate_on_write"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"` // openai, compatible, tei or fastembed
	Model     string   `koanf:"model"`
	Dimension int      `koanf:"dimension"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	CacheDir  string   `koanf:"cache_dir"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	BatchSize int      `koanf:"batch_size"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	Provider        string `koanf:"provider"` // qdrant or chromem
	QdrantURL       string `koanf:"qdrant_url"`
	QdrantAPIKey    Secret `koanf:"qdrant_api_key"`
	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`
}

// IngestConfig holds background ingestion settings.
type IngestConfig struct {
	Workers         int      `koanf:"workers"`
	QueueSize       int      `koanf:"queue_size"`
	MaxAttempts     int      `koanf:"max_attempts"`
	InitialBackoff  Duration `koanf:"initial_backoff"`
	MaxBackoff      Duration `koanf:"max_backoff"`
	JobTimeout      Duration `koanf:"job_timeout"`
	MaxTrackedJobs  int      `koanf:"max_tracked_jobs"`
	JobRetention    Duration `koanf:"job_retention"`
	ReplaceExisting bool     `koanf:"replace_existing"`
}

// EventsConfig configures job status publishing. Events go to the broker
// at NATSURL, or to an in-process server when Embedded is set. With
// neither, publishing and the SSE event stream are disabled.
type EventsConfig struct {
	NATSURL      string `koanf:"nats_url"`
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

// LoggingConfig holds the logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	MetricInterval Duration `koanf:"metric_interval"`
	ExportLogs     bool     `koanf:"export_logs"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
			RequestTimeout:  Duration(30 * time.Second),
			BodyLimit:       "8M",
			EventHeartbeat:  Duration(30 * time.Second),
		},
		Chunker: ChunkerConfig{
			Size:    1000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK:         3,
			Candidates:   20,
			RerankWeight: 0.5,
		},
		Cache: CacheConfig{
			Backend:           "redis",
			URL:               "redis://localhost:6379/0",
			TTL:               Duration(time.Hour),
			MaxEntries:        10000,
			Timeout:           Duration(500 * time.Millisecond),
			InvalidateOnWrite: true,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BaseURL:   "https://api.openai.com/v1",
			CacheDir:  "~/.cache/ragd/models",
			Timeout:   Duration(30 * time.Second),
			BatchSize: 32,
		},
		VectorStore: VectorStoreConfig{
			Provider:        "qdrant",
			QdrantURL:       "http://localhost:6333",
			ChromemPath:     "~/.local/share/ragd/vectorstore",
			ChromemCompress: true,
		},
		Ingest: IngestConfig{
			Workers:         4,
			QueueSize:       256,
			MaxAttempts:     5,
			InitialBackoff:  Duration(500 * time.Millisecond),
			MaxBackoff:      Duration(30 * time.Second),
			JobTimeout:      Duration(5 * time.Minute),
			MaxTrackedJobs:  10000,
			JobRetention:    Duration(time.Hour),
			ReplaceExisting: true,
		},
		Events: EventsConfig{
			EmbeddedHost: "127.0.0.1",
			EmbeddedPort: 4222,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SampleRate:     1.0,
			MetricInterval: Duration(15 * time.Second),
			ExportLogs:     true,
		},
	}
}

// Validate checks the whole configuration and reports every problem
// found, not just the first.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d must be 1-65535", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		add("server.request_timeout must be positive")
	}

	if c.Chunker.Size <= 0 {
		add("chunker.size must be positive")
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		add("chunker.overlap %d must be in [0, %d)", c.Chunker.Overlap, c.Chunker.Size)
	}

	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive")
	}
	if c.Retrieval.Rerank {
		if c.Retrieval.Candidates < c.Retrieval.TopK {
			add("retrieval.candidates %d must be at least retrieval.top_k", c.Retrieval.Candidates)
		}
		if c.Retrieval.RerankWeight < 0 || c.Retrieval.RerankWeight > 1 {
			add("retrieval.rerank_weight must be in [0, 1]")
		}
	}

	switch c.Cache.Backend {
	case "redis":
		if err := checkURL(c.Cache.URL.Value(), "redis", "rediss"); err != nil {
			add("cache.url: %v", err)
		}
	case "memory", "none":
	default:
		add("cache.backend %q must be redis, memory or none", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		add("cache.ttl must be positive")
	}

	switch c.Embeddings.Provider {
	case "openai", "compatible":
		if !c.Embeddings.APIKey.IsSet() {
			add("embeddings.api_key is required for the %s provider", c.Embeddings.Provider)
		}
	case "tei", "fastembed":
	default:
		add("embeddings.provider %q must be openai, compatible, tei or fastembed", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		add("embeddings.dimension must be positive")
	}
	if c.Embeddings.RateLimit < 0 {
		add("embeddings.rate_limit cannot be negative")
	}
	if c.Embeddings.BatchSize <= 0 {
		add("embeddings.batch_size must be positive")
	}

	switch c.VectorStore.Provider {
	case "qdrant":
		if c.VectorStore.QdrantURL == "" {
			add("vectorstore.qdrant_url is required")
		}
	case "chromem":
	default:
		add("vectorstore.provider %q must be qdrant or chromem", c.VectorStore.Provider)
	}

	if c.Ingest.Workers <= 0 {
		add("ingest.workers must be positive")
	}
	if c.Ingest.QueueSize <= 0 {
		add("ingest.queue_size must be positive")
	}
	if c.Ingest.MaxAttempts <= 0 {
		add("ingest.max_attempts must be positive")
	}

	if c.Events.NATSURL != "" {
		if err := checkURL(c.Events.NATSURL, "nats", "tls"); err != nil {
			add("events.nats_url: %v", err)
		}
	}
	if c.Events.Embedded {
		if c.Events.NATSURL != "" {
			add("events.embedded and events.nats_url cannot both be set")
		}
		if c.Events.EmbeddedPort < 1 || c.Events.EmbeddedPort > 65535 {
			add("events.embedded_port must be between 1 and 65535")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format %q must be json or console", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be between 0 and 1")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			add("telemetry.protocol must be grpc or http/protobuf")
		}
		if c.Telemetry.MetricInterval <= 0 {
			add("telemetry.metric_interval must be positive")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		// url errors echo the input, which may hold a password
		return errors.New("malformed URL")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %s URL", s)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
}
