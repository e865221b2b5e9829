package cluster

import "hash/fnv"

// ShardOf maps a symbol to its owning shard index.
//
// The mapping is a pure FNV-1a hash of the symbol modulo the shard count:
// deterministic across calls, process restarts, and nodes, and uniform for
// realistic symbol sets. It depends on nothing but the symbol bytes and the
// shard count, so every node with the same SHARD_COUNT routes identically —
// the partitioning contract the operators rely on.
//
// Changing the shard count reassigns symbols and requires a full
// re-partition of stored data; shard count is therefore fixed at cluster
// creation.
func ShardOf(symbol string, shardCount int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum64() % uint64(shardCount))
}
