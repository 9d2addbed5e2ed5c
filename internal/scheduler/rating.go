// Package scheduler implements the memory-scheduling model: the pure
// transition function that maps a retention state and a review rating to the
// next retention state. It performs no I/O.
package scheduler

import "fmt"

// Rating is the reviewer-supplied outcome of a single review.
type Rating int

const (
	Again Rating = iota + 1 // Complete failure to recall.
	Hard                    // Recalled with significant difficulty.
	Good                    // Recalled with some effort.
	Easy                    // Recalled effortlessly.
)

var ratingNames = [...]string{Again: "again", Hard: "hard", Good: "good", Easy: "easy"}

// IsValid reports whether r is a valid rating (Again through Easy).
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// String returns the lowercase name of the rating.
func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("rating(%d)", int(r))
}

// Mode identifies the session type a review belongs to.
type Mode string

const (
	ModeReview Mode = "review"
	ModeDrill  Mode = "drill"
	ModeMock   Mode = "mock"
)

// IsValid reports whether m is a known session mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeReview, ModeDrill, ModeMock:
		return true
	}
	return false
}
