package scheduler

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
)

// fuzzInterval perturbs an interval by up to ±FuzzPercent to spread due dates
// that would otherwise cluster. The perturbation is seeded from
// (userID, itemID, version) so the same transition always produces the same
// due date. The result stays within the configured interval bounds.
func (m *Model) fuzzInterval(interval int, userID, itemID, version int64) int {
	if m.cfg.FuzzPercent <= 0 || interval <= m.cfg.MinIntervalDays {
		return interval
	}

	rng := rand.New(rand.NewSource(fuzzSeed(userID, itemID, version)))
	factor := 1.0 + (rng.Float64()*2.0-1.0)*m.cfg.FuzzPercent
	fuzzed := int(math.Round(float64(interval) * factor))
	return m.clampInterval(fuzzed)
}

// fuzzSeed hashes the state key and version into a deterministic RNG seed.
func fuzzSeed(userID, itemID, version int64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []int64{userID, itemID, version} {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	return int64(h.Sum64())
}
