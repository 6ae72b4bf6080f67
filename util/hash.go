package util

import "hash/fnv"

// GenerateID returns a stable 64-bit FNV-1a hash of a string, suitable for
// deriving compact object identifiers from string keys. The log store itself
// takes uint64 keys directly and does not call it.
func GenerateID(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}
