package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix starts every structured environment variable.
const EnvPrefix = "RAGD_"

// legacyEnv maps the flat variable names ragd has always honored to
// config keys. They take precedence over their RAGD_ equivalents.
var legacyEnv = map[string]string{
	"CHUNK_SIZE":          "chunker.size",
	"CHUNK_OVERLAP":       "chunker.overlap",
	"RAG_TOP_K":           "retrieval.top_k",
	"CACHE_TTL":           "cache.ttl",
	"EMBEDDING_MODEL":     "embeddings.model",
	"EMBEDDING_DIMENSION": "embeddings.dimension",
	"OPENAI_API_KEY":      "embeddings.api_key",
	"REDIS_URL":           "cache.url",
	"QDRANT_URL":          "vectorstore.qdrant_url",
	"NATS_URL":            "events.nats_url",
}

// sections are the top-level config keys, used to split RAGD_ names.
var sections = []string{
	"server", "chunker", "retrieval", "cache", "embeddings",
	"vectorstore", "ingest", "events", "logging", "telemetry",
}

// Load builds the configuration from defaults, the YAML file at configPath
// and the environment, then validates it.
//
// Configuration precedence (highest to lowest):
//  1. Legacy environment variables (CHUNK_SIZE, RAG_TOP_K, REDIS_URL, ...)
//  2. RAGD_<SECTION>_<FIELD> environment variables
//  3. YAML config file (~/.config/ragd/config.yaml when configPath is empty)
//  4. Defaults
//
// A missing file is not an error.
//
// The file must live under ~/.config/ragd/ or /etc/ragd/, must not be
// readable by group or others, and may be at most 1 MiB.
//
// In RAGD_ names the first word after the prefix is the section and the
// rest is the field:
//
//	RAGD_SERVER_PORT          -> server.port
//	RAGD_INGEST_QUEUE_SIZE    -> ingest.queue_size
//	RAGD_VECTORSTORE_PROVIDER -> vectorstore.provider
//
// Durations use Go syntax ("500ms", "1h"); a bare integer is a number of
// seconds, which keeps CACHE_TTL=3600 working.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := checkPath(configPath); err != nil {
		return nil, err
	}
	data, err := readFile(configPath)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	for _, p := range []koanf.Provider{
		env.ProviderWithValue(EnvPrefix, ".", prefixedEnvKey),
		env.ProviderWithValue("", ".", legacyEnvKey),
	} {
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("reading environment: %w", err)
		}
	}

	// Unmarshal over the defaults so absent keys keep them.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// legacyEnvKey maps the flat variable names. Returning an empty key makes
// koanf skip the variable; empty values count as unset.
func legacyEnvKey(name, value string) (string, any) {
	key, ok := legacyEnv[name]
	if !ok || value == "" {
		return "", nil
	}
	return key, value
}

// prefixedEnvKey maps RAGD_<SECTION>_<FIELD> to section.field.
func prefixedEnvKey(name, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	lower := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, section := range sections {
		if field, ok := strings.CutPrefix(lower, section+"_"); ok && field != "" {
			return section + "." + field, value
		}
	}
	return "", nil
}
