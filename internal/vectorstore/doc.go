// Package vectorstore stores chunk vectors in per-namespace collections.
//
// A namespace is derived from a tenant.Scope and maps one-to-one onto a
// backend collection. Every Index operation names its namespace explicitly;
// there is no implicit default collection, so a query for one scope can never
// observe entries written under another.
//
// Two backends are provided:
//   - QdrantIndex talks to a Qdrant server over its native gRPC API.
//   - ChromemIndex embeds chromem-go and runs in-process, optionally
//     persisting collections to disk.
//
// Both backends use cosine similarity and return hits ordered by descending
// score.
package vectorstore
