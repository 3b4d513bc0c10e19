package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDueCadenceBuckets(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name             string
		age              time.Duration
		expectedInterval time.Duration
	}{
		{"brand new", 0, time.Hour},
		{"just under 1h", 59 * time.Minute, time.Hour},
		{"exactly 1h boundary", time.Hour, 2 * time.Hour},
		{"mid second bucket", 3 * time.Hour, 2 * time.Hour},
		{"just under 7h", 6*time.Hour + 59*time.Minute, 2 * time.Hour},
		{"exactly 7h boundary", 7 * time.Hour, 12 * time.Hour},
		{"mid third bucket", 20 * time.Hour, 12 * time.Hour},
		{"just under 31h", 30*time.Hour + 59*time.Minute, 12 * time.Hour},
		{"exactly 31h boundary", 31 * time.Hour, 24 * time.Hour},
		{"well beyond 31h", 200 * time.Hour, 24 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			publishedAt := now.Add(-tc.age)
			due := NextDue(publishedAt, now)
			assert.Equal(t, now.Add(tc.expectedInterval), due)
		})
	}
}

func TestNextDueMonotoneInNow(t *testing.T) {
	publishedAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	earlier := publishedAt.Add(2 * time.Hour)
	later := earlier.Add(time.Hour)

	assert.True(t, !NextDue(publishedAt, later).Before(NextDue(publishedAt, earlier)))
}
