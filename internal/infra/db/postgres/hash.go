package postgres

import "hash/fnv"

// hashToInt64 maps a lock name onto the bigint key space of pg_advisory_xact_lock.
func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}
