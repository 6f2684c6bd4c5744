// Package embeddings converts text into fixed-dimension vectors.
//
// Four providers sit behind the Provider interface:
//
//   - openai: the OpenAI embeddings API through langchaingo
//   - tei: a HuggingFace Text Embeddings Inference server over HTTP
//   - compatible: any OpenAI-compatible endpoint through the eino embedder
//   - fastembed: local ONNX models (cgo builds only)
//
// Client wraps a provider with rate limiting, output validation and metrics.
// Every failure that leaves Client is a *ProviderError, so callers can match
// ErrProvider with errors.Is and ask Retryable before scheduling another attempt.
package embeddings
