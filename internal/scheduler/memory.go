package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/spacedlabs/recall/internal/config"
)

// epsilon is the floor for stability and elapsed time in the forgetting
// curve, guarding the division against degenerate values.
const epsilon = 0.001

// Model computes retention-state transitions using the configured fsrs_v6
// coefficient set. All methods are pure: identical inputs yield identical
// outputs, including the due-date fuzz, which is seeded from the state key.
type Model struct {
	cfg config.SchedulerConfig
}

// NewModel creates a Model with the given scheduler configuration.
func NewModel(cfg config.SchedulerConfig) *Model {
	return &Model{cfg: cfg}
}

// NextState computes the state following a review of the given (user, item)
// pair. current is nil on the first review of an item, in which case the
// state is seeded from the rating-indexed initial constants. now must be the
// review timestamp; no clock is read internally.
func (m *Model) NextState(userID, itemID int64, current *State, rating Rating, mode Mode, now time.Time) (State, error) {
	if !rating.IsValid() {
		return State{}, fmt.Errorf("invalid rating %d: must be 1-4", int(rating))
	}

	var next State
	if current == nil {
		next = m.seed(rating)
	} else {
		next = m.transition(*current, rating, now)
	}
	next.UserID = userID
	next.ItemID = itemID

	return m.finalize(next, mode, now), nil
}

// Reseed rebuilds an existing state from the initial constants for the given
// rating, keeping the version chain intact. States are never deleted; a soft
// reset re-seeds the row instead.
func (m *Model) Reseed(current State, rating Rating, now time.Time) (State, error) {
	if !rating.IsValid() {
		return State{}, fmt.Errorf("invalid rating %d: must be 1-4", int(rating))
	}

	next := m.seed(rating)
	next.UserID = current.UserID
	next.ItemID = current.ItemID
	next.Version = current.Version

	return m.finalize(next, ModeReview, now), nil
}

// finalize derives the interval, due date and bookkeeping fields shared by
// every state mutation, and bumps the version.
func (m *Model) finalize(next State, mode Mode, now time.Time) State {
	interval := m.nextInterval(next.Stability, mode)
	interval = m.fuzzInterval(interval, next.UserID, next.ItemID, next.Version+1)

	next.LastInterval = interval
	next.DueAt = now.Add(time.Duration(interval) * 24 * time.Hour)
	reviewedAt := now
	next.LastReviewedAt = &reviewedAt
	next.SchedulerName = m.cfg.Name
	next.Version++

	return next
}

// Retrievability returns the estimated recall probability after elapsedDays
// for the given stability, following the power-law forgetting curve
// R = (1 + t/(9S))^(-1).
func (m *Model) Retrievability(elapsedDays, stability float64) float64 {
	t := math.Max(elapsedDays, epsilon)
	s := math.Max(stability, epsilon)
	return 1.0 / (1.0 + t/(9.0*s))
}

// seed builds the initial state for a first review. The caller fills in the
// key fields; Version starts at zero and is incremented by NextState.
func (m *Model) seed(rating Rating) State {
	next := State{
		Stability:  math.Max(m.cfg.InitialStability[rating-1], epsilon),
		Difficulty: m.clampDifficulty(m.cfg.InitialDifficulty[rating-1]),
	}
	if rating == Again {
		next.Lapses = 1
	} else {
		next.Reps = 1
	}
	return next
}

// transition applies one review outcome to an existing state.
func (m *Model) transition(current State, rating Rating, now time.Time) State {
	next := current

	elapsedDays := 0.0
	if current.LastReviewedAt != nil {
		elapsedDays = now.Sub(*current.LastReviewedAt).Hours() / 24
		if elapsedDays < 0 {
			elapsedDays = 0
		}
	}
	retrievability := m.Retrievability(elapsedDays, current.Stability)

	next.Difficulty = m.nextDifficulty(current.Difficulty, rating)

	if rating == Again {
		next.Stability = math.Max(current.Stability*m.cfg.LapseDecay, epsilon)
		next.Lapses++
	} else {
		next.Stability = m.nextRecallStability(current.Stability, current.Difficulty, retrievability, rating)
	}
	next.Reps++

	return next
}

// nextDifficulty moves difficulty a configured fraction toward the
// ease-indexed target and clamps to the allowed range. Rating 1 targets the
// hard end of the scale, rating 4 the easy end.
func (m *Model) nextDifficulty(difficulty float64, rating Rating) float64 {
	target := m.cfg.DifficultyTarget[rating-1]
	next := difficulty + m.cfg.DifficultyWeight*(target-difficulty)
	return m.clampDifficulty(next)
}

// nextRecallStability grows stability after a successful recall. Growth is
// larger for items that were at risk (low retrievability) and for easier
// items (low difficulty), and never shrinks stability.
func (m *Model) nextRecallStability(stability, difficulty, retrievability float64, rating Rating) float64 {
	growth := m.cfg.GrowthRate *
		(11.0 - difficulty) *
		math.Pow(math.Max(stability, epsilon), -m.cfg.StabilityDecay) *
		(math.Exp((1.0-retrievability)*m.cfg.RetrievabilityGain) - 1.0)

	switch rating {
	case Hard:
		growth *= m.cfg.HardPenalty
	case Easy:
		growth *= m.cfg.EasyBonus
	}

	return math.Max(stability*(1.0+growth), epsilon)
}

// nextInterval converts stability into a whole-day interval for the mode,
// clamped to the configured bounds.
func (m *Model) nextInterval(stability float64, mode Mode) int {
	scale := 1.0
	if s, ok := m.cfg.IntervalScale[string(mode)]; ok {
		scale = s
	}
	interval := int(math.Round(stability * scale))
	return m.clampInterval(interval)
}

func (m *Model) clampInterval(interval int) int {
	if interval < m.cfg.MinIntervalDays {
		return m.cfg.MinIntervalDays
	}
	if interval > m.cfg.MaxIntervalDays {
		return m.cfg.MaxIntervalDays
	}
	return interval
}

func (m *Model) clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, m.cfg.MinDifficulty), m.cfg.MaxDifficulty)
}
