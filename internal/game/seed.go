package game

import (
	"hash/fnv"
	"strconv"
)

// SeededHash is 64-bit FNV-1a over namespace + "|" + key. The algorithm is
// part of the client contract: expected actions, hidden-bonus rolls, shadow
// jitter and daily modifiers must replay identically everywhere.
func SeededHash(namespace, key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

// SeededFloat maps SeededHash onto [0, 1).
func SeededFloat(namespace, key string) float64 {
	return float64(SeededHash(namespace, key)>>11) / (1 << 53)
}

func seqKey(ref string, seq int) string {
	return ref + ":" + strconv.Itoa(seq)
}
