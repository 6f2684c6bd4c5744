// Package rag orchestrates document ingestion and context retrieval.
//
// An Ingestor turns a document into indexed chunk vectors:
//
//	received -> chunked -> embedded -> indexed -> done
//
// with failed reachable from every state. Chunk IDs are derived from the
// document ID and chunk position, so ingesting the same document twice
// overwrites its entries instead of duplicating them.
//
// A Retriever answers a query from the result cache when it can, and
// otherwise embeds the query, searches the scope's namespace and caches
// any non-empty result.
//
// Neither type owns its dependencies; callers construct the chunker,
// embedder, index and cache and close them after the orchestrators are done.
package rag
