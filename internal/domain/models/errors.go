package models

import "errors"

// Sentinel errors for domain-level error handling.
// The API layer maps these to HTTP status codes.
var (
	// ErrInvalidTrade marks a structurally invalid record, rejected at the
	// ingestion boundary.
	ErrInvalidTrade = errors.New("invalid_trade")

	// ErrReplicaUnavailable is returned by a replica that is down; the
	// replicator retries until the peer recovers.
	ErrReplicaUnavailable = errors.New("replica_unavailable")

	// ErrShardUnavailable means every replica of a shard is down. Writes
	// fail fast with it and it is retryable by the caller.
	ErrShardUnavailable = errors.New("shard_unavailable")
)
