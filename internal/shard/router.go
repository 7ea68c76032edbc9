// Package shard implements the Aggregator's per-shard click processing:
// a single-writer pending-delta map, periodic flush to the durable store,
// and the hash-based routing that both Edge and Aggregator use to agree
// on which shard owns a given user.
package shard

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// Of computes shard(user_id) = stable_hash(user_id) mod n. It is a pure
// function of the user id and n so Edge (routing) and Aggregator
// (ownership assertion) never disagree on which shard owns a user.
func Of(userID uuid.UUID, n int) int {
	if n <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(userID[:])
	return int(h.Sum64() % uint64(n))
}
