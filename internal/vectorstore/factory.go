package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures an Index backend.
type Config struct {
	// Provider is "qdrant" or "chromem". Empty selects qdrant.
	Provider string
	Qdrant   QdrantConfig
	Chromem  ChromemConfig
}

// NewIndex creates an Index for the configured provider:
//   - "qdrant" (default): connects to an external Qdrant server
//   - "chromem": embedded chromem-go, in memory or persisted to Chromem.Path
//
// dimension overrides the per-backend Dimension so both backends agree with
// the embedding client.
func NewIndex(ctx context.Context, cfg Config, dimension int, logger *zap.Logger) (Index, error) {
	switch cfg.Provider {
	case "qdrant", "":
		qcfg := cfg.Qdrant
		qcfg.Dimension = dimension
		return NewQdrantIndex(ctx, qcfg, logger)

	case "chromem":
		ccfg := cfg.Chromem
		ccfg.Dimension = dimension
		return NewChromemIndex(ccfg, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: qdrant, chromem)",
			ErrInvalidConfig, cfg.Provider)
	}
}
