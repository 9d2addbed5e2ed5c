// Package statistics computes aggregates over the review ledger. The ledger
// is the source of truth; everything here is derived and recomputable.
package statistics

import (
	"fmt"
	"sort"
	"time"

	"github.com/spacedlabs/recall/internal/review"
	"github.com/spacedlabs/recall/internal/scheduler"
)

// PeriodStatistics holds review statistics for one month.
type PeriodStatistics struct {
	Period         string // "2025-06"
	Reviews        int
	Correct        int
	Accuracy       float64 // correct / reviews
	Lapses         int
	LapseRate      float64 // lapses / reviews
	MeanLatencyMs  float64
	LatencyBuckets map[string]int
	UniqueItems    int
}

// AggregateStatistics holds totals across all periods. UniqueItems is
// deduplicated globally, so it can be less than the sum over periods.
type AggregateStatistics struct {
	Reviews        int
	Correct        int
	Accuracy       float64
	Lapses         int
	LapseRate      float64
	MeanLatencyMs  float64
	LatencyBuckets map[string]int
	UniqueItems    int
}

// StatisticsResult holds both per-period and aggregate statistics.
type StatisticsResult struct {
	Periods   []PeriodStatistics
	Aggregate AggregateStatistics
}

type periodData struct {
	reviews        int
	correct        int
	lapses         int
	latencySumMs   int64
	latencyBuckets map[string]int
	uniqueItems    map[int64]struct{}
}

// Calculate computes statistics from ledger rows. It accepts optional year
// and month filters (0 means no filter).
func Calculate(reviews []review.Review, year, month int) StatisticsResult {
	stats := make(map[string]*periodData)
	globalUniqueItems := make(map[int64]struct{})

	for _, r := range reviews {
		if r.TS.IsZero() {
			continue
		}
		tsYear := r.TS.Year()
		tsMonth := int(r.TS.Month())
		if !matchesFilter(tsYear, tsMonth, year, month) {
			continue
		}

		period := fmt.Sprintf("%d-%02d", tsYear, tsMonth)
		ensurePeriodExists(stats, period)

		data := stats[period]
		data.reviews++
		if reviewCorrect(r) {
			data.correct++
		}
		if r.Ease == scheduler.Again {
			data.lapses++
		}
		data.latencySumMs += int64(r.LatencyMs)
		if r.LatencyBucket != "" {
			data.latencyBuckets[r.LatencyBucket]++
		}
		data.uniqueItems[r.ItemID] = struct{}{}
		globalUniqueItems[r.ItemID] = struct{}{}
	}

	return buildResult(stats, globalUniqueItems)
}

// ReviewsPerDay counts reviews per day of the given month. Days without
// reviews are absent from the map.
func ReviewsPerDay(reviews []review.Review, year int, month time.Month) map[int]int {
	perDay := make(map[int]int)
	for _, r := range reviews {
		if r.TS.Year() != year || r.TS.Month() != month {
			continue
		}
		perDay[r.TS.Day()]++
	}
	return perDay
}

// reviewCorrect mirrors the result-aggregation rule: an explicit correct
// flag wins, otherwise any passing rating counts.
func reviewCorrect(r review.Review) bool {
	if r.Correct != nil {
		return *r.Correct
	}
	return r.Ease >= scheduler.Hard
}

func ensurePeriodExists(stats map[string]*periodData, period string) {
	if stats[period] == nil {
		stats[period] = &periodData{
			latencyBuckets: make(map[string]int),
			uniqueItems:    make(map[int64]struct{}),
		}
	}
}

func matchesFilter(tsYear, tsMonth, filterYear, filterMonth int) bool {
	if filterYear == 0 {
		return true
	}
	if tsYear != filterYear {
		return false
	}
	if filterMonth == 0 {
		return true
	}
	return tsMonth == filterMonth
}

func buildResult(stats map[string]*periodData, globalUniqueItems map[int64]struct{}) StatisticsResult {
	periods := make([]PeriodStatistics, 0, len(stats))

	var total periodData
	total.latencyBuckets = make(map[string]int)
	for period, data := range stats {
		periods = append(periods, PeriodStatistics{
			Period:         period,
			Reviews:        data.reviews,
			Correct:        data.correct,
			Accuracy:       ratio(data.correct, data.reviews),
			Lapses:         data.lapses,
			LapseRate:      ratio(data.lapses, data.reviews),
			MeanLatencyMs:  meanLatency(data.latencySumMs, data.reviews),
			LatencyBuckets: data.latencyBuckets,
			UniqueItems:    len(data.uniqueItems),
		})
		total.reviews += data.reviews
		total.correct += data.correct
		total.lapses += data.lapses
		total.latencySumMs += data.latencySumMs
		for bucket, count := range data.latencyBuckets {
			total.latencyBuckets[bucket] += count
		}
	}

	// Newest period first.
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Period > periods[j].Period
	})

	return StatisticsResult{
		Periods: periods,
		Aggregate: AggregateStatistics{
			Reviews:        total.reviews,
			Correct:        total.correct,
			Accuracy:       ratio(total.correct, total.reviews),
			Lapses:         total.lapses,
			LapseRate:      ratio(total.lapses, total.reviews),
			MeanLatencyMs:  meanLatency(total.latencySumMs, total.reviews),
			LatencyBuckets: total.latencyBuckets,
			UniqueItems:    len(globalUniqueItems),
		},
	}
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

func meanLatency(sumMs int64, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(sumMs) / float64(count)
}
