// Package selector builds ranked review queues from scheduler states.
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/spacedlabs/recall/internal/config"
	"github.com/spacedlabs/recall/internal/scheduler"
	"github.com/spacedlabs/recall/internal/state"
)

// Selector produces candidate item queues per session mode. Every call
// recomputes from current state; nothing is cached.
type Selector struct {
	states state.Repository
	cfg    config.SessionConfig
}

// NewSelector creates a Selector.
func NewSelector(states state.Repository, cfg config.SessionConfig) *Selector {
	return &Selector{states: states, cfg: cfg}
}

// Select returns up to limit item IDs for the given mode. Drill mode samples
// with the caller-supplied seed so a session can be reproduced; review and
// mock modes ignore the seed.
func (s *Selector) Select(ctx context.Context, userID int64, mode scheduler.Mode, limit int, now time.Time, seed int64) ([]int64, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	switch mode {
	case scheduler.ModeReview:
		states, err := s.states.DueItems(ctx, userID, now, limit)
		if err != nil {
			return nil, err
		}
		return itemIDs(states), nil

	case scheduler.ModeDrill:
		states, err := s.states.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return weightedSample(states, limit, s.cfg.DrillWeight, seed), nil

	default: // scheduler.ModeMock
		states, err := s.states.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return stratifiedSample(states, limit, s.cfg.MockBuckets), nil
	}
}

// DueCount returns how many of the user's items are due at now.
func (s *Selector) DueCount(ctx context.Context, userID int64, now time.Time) (int, error) {
	return s.states.CountDue(ctx, userID, now)
}

func itemIDs(states []scheduler.State) []int64 {
	ids := make([]int64, len(states))
	for i, st := range states {
		ids[i] = st.ItemID
	}
	return ids
}
