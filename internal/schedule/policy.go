// Package schedule implements the pure age-decaying cadence that governs
// how often a video's engagement metrics are resampled.
package schedule

import "time"

// Cadence bucket boundaries, in hours since publication. Boundaries are
// half-open on the right: a video aged exactly boundary hours falls into
// the bucket for ages >= boundary.
const (
	firstBucketHours  = 1
	secondBucketHours = 7
	thirdBucketHours  = 31
)

// NextDue maps a video's age at now to the next time its metrics should be
// sampled. The function is pure and deterministic: it depends only on its
// arguments, never on stored state, so it is monotone non-decreasing in
// now for a fixed publishedAt.
func NextDue(publishedAt, now time.Time) time.Time {
	return now.Add(intervalFor(now.Sub(publishedAt)))
}

// intervalFor returns the sampling interval for a video of the given age.
func intervalFor(age time.Duration) time.Duration {
	switch {
	case age < firstBucketHours*time.Hour:
		return time.Hour
	case age < secondBucketHours*time.Hour:
		return 2 * time.Hour
	case age < thirdBucketHours*time.Hour:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}
