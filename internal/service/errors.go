package service

import "errors"

// The error taxonomy exposed to the transport layer. Callers branch with
// errors.Is; everything else is a durability failure the caller may retry
// safely because mutations are transactional.
var (
	// ErrInvalidRating rejects an ease outside 1-4 before any state read.
	ErrInvalidRating = errors.New("ease must be between 1 and 4")

	// ErrInvalidMode rejects an unknown session mode before any state read.
	ErrInvalidMode = errors.New("mode must be review, drill or mock")

	// ErrNotFound signals an unknown item or quiz.
	ErrNotFound = errors.New("not found")

	// ErrConflictExhausted signals that every retry attempt hit a version
	// conflict; the caller should resubmit.
	ErrConflictExhausted = errors.New("write conflict: retries exhausted, resubmit the request")

	// ErrInsufficientItems signals that too few candidate items exist to
	// start a quiz.
	ErrInsufficientItems = errors.New("not enough candidate items")
)
