package domain

import "time"

// LockoutState is the verdict of the lockout tracker for one reference.
type LockoutState struct {
	Locked bool
	// Busy means every attempt left before lockout is already being evaluated.
	Busy        bool
	Failures    int
	LockedUntil time.Time
	Remaining   time.Duration
}
