package selector

import (
	"math"
	"math/rand"
	"sort"

	"github.com/spacedlabs/recall/internal/config"
	"github.com/spacedlabs/recall/internal/scheduler"
)

// weightedSample draws up to limit items without replacement, giving lapsed
// items and items harder than the user's median the configured extra weight.
// The seed fully determines the draw.
func weightedSample(states []scheduler.State, limit int, weight float64, seed int64) []int64 {
	if len(states) == 0 {
		return nil
	}

	median := medianDifficulty(states)

	type candidate struct {
		itemID int64
		weight float64
	}
	pool := make([]candidate, 0, len(states))
	for _, st := range states {
		w := 1.0
		if st.Lapses > 0 || st.Difficulty > median {
			w = weight
		}
		pool = append(pool, candidate{itemID: st.ItemID, weight: w})
	}
	// ListByUser returns item order; keep the pool sorted anyway so the
	// draw depends only on the seed and the state set.
	sort.Slice(pool, func(i, j int) bool { return pool[i].itemID < pool[j].itemID })

	rng := rand.New(rand.NewSource(seed))
	if limit > len(pool) {
		limit = len(pool)
	}

	picked := make([]int64, 0, limit)
	for len(picked) < limit {
		var total float64
		for _, c := range pool {
			total += c.weight
		}
		target := rng.Float64() * total
		idx := 0
		for i, c := range pool {
			target -= c.weight
			if target < 0 {
				idx = i
				break
			}
		}
		picked = append(picked, pool[idx].itemID)
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return picked
}

// stratifiedSample approximates the configured difficulty distribution:
// each bucket contributes its share of limit, and any shortfall is filled
// from the remaining items in review order.
func stratifiedSample(states []scheduler.State, limit int, buckets []config.MockBucket) []int64 {
	if len(states) == 0 {
		return nil
	}
	if limit > len(states) {
		limit = len(states)
	}
	if len(buckets) == 0 {
		sorted := sortedForReview(states)
		return itemIDs(sorted[:limit])
	}

	grouped := make([][]scheduler.State, len(buckets))
	for _, st := range states {
		idx := len(buckets) - 1
		for i, b := range buckets {
			if st.Difficulty <= b.MaxDifficulty {
				idx = i
				break
			}
		}
		grouped[idx] = append(grouped[idx], st)
	}

	picked := make([]scheduler.State, 0, limit)
	taken := make(map[int64]bool, limit)
	for i, b := range buckets {
		want := int(math.Round(b.Share * float64(limit)))
		bucket := sortedForReview(grouped[i])
		for _, st := range bucket {
			if len(picked) >= limit || want <= 0 {
				break
			}
			picked = append(picked, st)
			taken[st.ItemID] = true
			want--
		}
	}

	// Rounding and thin buckets can leave a shortfall; top up from the
	// rest of the pool in review order.
	if len(picked) < limit {
		for _, st := range sortedForReview(states) {
			if len(picked) >= limit {
				break
			}
			if taken[st.ItemID] {
				continue
			}
			picked = append(picked, st)
			taken[st.ItemID] = true
		}
	}

	return itemIDs(sortedForReview(picked))
}

// sortedForReview orders states by due_at ascending, difficulty descending,
// then item_id, the same ordering the review queue uses.
func sortedForReview(states []scheduler.State) []scheduler.State {
	sorted := make([]scheduler.State, len(states))
	copy(sorted, states)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].DueAt.Equal(sorted[j].DueAt) {
			return sorted[i].DueAt.Before(sorted[j].DueAt)
		}
		if sorted[i].Difficulty != sorted[j].Difficulty {
			return sorted[i].Difficulty > sorted[j].Difficulty
		}
		return sorted[i].ItemID < sorted[j].ItemID
	})
	return sorted
}

// medianDifficulty returns the user's median item difficulty.
func medianDifficulty(states []scheduler.State) float64 {
	difficulties := make([]float64, len(states))
	for i, st := range states {
		difficulties[i] = st.Difficulty
	}
	sort.Float64s(difficulties)
	mid := len(difficulties) / 2
	if len(difficulties)%2 == 0 {
		return (difficulties[mid-1] + difficulties[mid]) / 2
	}
	return difficulties[mid]
}
