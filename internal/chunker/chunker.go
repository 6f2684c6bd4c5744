// Package chunker splits document text into overlapping segments for embedding.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Defaults applied when a Config leaves a field unset.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrChunking indicates invalid chunking parameters or a splitter failure.
// It signals a caller bug and is never retried.
var ErrChunking = errors.New("chunking failed")

// Separators is the boundary hierarchy tried in order: paragraph, line,
// sentence, word, character.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// Config holds chunking parameters. Sizes count runes.
type Config struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Size == 0 {
		c.Size = DefaultChunkSize
	}
	if c.Overlap == 0 && c.Size > DefaultChunkOverlap {
		c.Overlap = DefaultChunkOverlap
	}
}

// Validate checks 0 <= overlap < size.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrChunking, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrChunking, c.Size, c.Overlap)
	}
	return nil
}

// Chunker splits text with fixed parameters.
type Chunker struct {
	cfg Config
}

// New returns a Chunker for cfg.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the chunking parameters.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Split splits text using the chunker's parameters.
func (c *Chunker) Split(text string) ([]string, error) {
	return Split(text, c.cfg.Size, c.cfg.Overlap)
}

// Split breaks text into ordered chunks of at most size runes, repeating up to
// overlap runes of trailing context at the start of the next chunk. Boundaries
// follow Separators so paragraph and sentence breaks win over mid-word cuts.
//
// Empty or whitespace-only text yields no chunks. Text shorter than size
// yields exactly one chunk. The result is a pure function of the arguments.
func Split(text string, size, overlap int) ([]string, error) {
	if err := (Config{Size: size, Overlap: overlap}).Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	if utf8.RuneCountInString(text) <= size {
		return []string{text}, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(Separators),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunking, err)
	}

	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	return chunks, nil
}
