package accessmgr

import "hash/fnv"

// Hash32 returns the signed 32-bit FNV-1a hash of the stable string form of a
// routing key. The signed reinterpretation spreads keys across the full int32
// domain, which is what hash-range starts partition.
func Hash32(key string) int32 {
	h := fnv.New32a()
	// fnv's Write never fails.
	h.Write([]byte(key))
	return int32(h.Sum32())
}
