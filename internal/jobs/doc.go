// Package jobs runs document ingestion asynchronously.
//
// Submit places a job on a bounded queue and returns immediately; a full
// queue rejects the job with ErrQueueFull instead of blocking the caller.
// A fixed pool of workers drains the queue. Jobs for the same document are
// serialized so two revisions never interleave their writes, while jobs for
// different documents run concurrently.
//
// Retryable failures are retried with exponential backoff. Every status
// change is recorded in a Registry and published as an Event, on NATS when
// a connection is configured.
package jobs
