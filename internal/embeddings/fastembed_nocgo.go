//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrLocalUnavailable is returned by every LocalProvider call in builds
// without cgo, where the ONNX runtime cannot be linked.
var ErrLocalUnavailable = errors.New("local embeddings need a cgo build; use the tei or openai provider")

// LocalProvider is a stub in builds without cgo.
type LocalProvider struct{}

// NewLocalProvider always returns ErrLocalUnavailable.
func NewLocalProvider(string, string) (*LocalProvider, error) {
	return nil, ErrLocalUnavailable
}

func (*LocalProvider) Name() string   { return "fastembed" }
func (*LocalProvider) Dimension() int { return 0 }
func (*LocalProvider) Close() error   { return nil }

func (*LocalProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrLocalUnavailable
}

func (*LocalProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrLocalUnavailable
}
