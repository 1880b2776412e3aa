// Package clock abstracts the time source so that staleness logic is
// testable with a fake clock.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Since returns now-then, clamped to zero if then is in the future.
func Since(now, then time.Time) time.Duration {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return d
}
