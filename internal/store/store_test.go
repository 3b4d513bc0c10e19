package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "worker.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedVideo(t *testing.T, s *Store, videoID int64, shortcode string, accountID int64, publishedAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, Account{ID: accountID, Username: "acct"}))
	id, err := s.UpsertVideo(ctx, Video{
		VideoID:     videoID,
		Shortcode:   shortcode,
		AccountID:   accountID,
		VideoURL:    "https://example.test/v/" + shortcode,
		PublishedAt: publishedAt,
	})
	require.NoError(t, err)
	return id
}

func TestUpsertAccountIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccount(ctx, Account{ID: 42, Username: "alice", FollowersCount: 10}))
	require.NoError(t, s.UpsertAccount(ctx, Account{ID: 42, Username: "alice", FollowersCount: 20}))

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, int64(20), accounts[0].FollowersCount)
}

func TestInsertAccountIfNotExistsSkipsOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertAccountIfNotExists(ctx, Account{ID: 42, Username: "alice", FollowersCount: 10})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.InsertAccountIfNotExists(ctx, Account{ID: 42, Username: "alice-renamed", FollowersCount: 999})
	require.NoError(t, err)
	require.False(t, inserted)

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "alice", accounts[0].Username)
	require.Equal(t, int64(10), accounts[0].FollowersCount)
}

func TestUpsertVideoPreservesImmutableFieldsAndFillsEnrichmentOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	published := time.Now().Add(-time.Hour)

	id := seedVideo(t, s, 100, "S1", 1, published)

	// Re-upsert with enrichment data: should fill audio_file_path since it was null.
	_, err := s.UpsertVideo(ctx, Video{
		VideoID:       100,
		Shortcode:     "different-shortcode-ignored",
		AccountID:     999,
		PublishedAt:   published.Add(time.Hour),
		AudioFilePath: "/audio/S1.mp3",
		Transcription: "hello world",
	})
	require.NoError(t, err)

	v, err := s.GetVideoByShortcode(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, id, v.ID)
	require.Equal(t, int64(1), v.AccountID, "account_id is immutable on conflict")
	require.WithinDuration(t, published, v.PublishedAt, time.Second, "published_at is immutable on conflict")
	require.Equal(t, "/audio/S1.mp3", v.AudioFilePath)
	require.Equal(t, "hello world", v.Transcription)

	// A second fill attempt must not clobber the already-filled transcription.
	_, err = s.UpsertVideo(ctx, Video{
		VideoID:       100,
		Shortcode:     "S1",
		AccountID:     1,
		PublishedAt:   published,
		Transcription: "clobbered",
	})
	require.NoError(t, err)
	v, err = s.GetVideoByShortcode(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, "hello world", v.Transcription)
}

func TestMetricsAreAppendOnlyAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	videoID := seedVideo(t, s, 200, "S2", 1, time.Now())

	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-1 * time.Hour)

	require.NoError(t, s.AppendMetric(ctx, Metric{VideoID: videoID, ViewCount: 10, MeasuredAt: t1}))
	require.NoError(t, s.AppendMetric(ctx, Metric{VideoID: videoID, ViewCount: 20, MeasuredAt: t2}))

	latest, err := s.LatestMetricForVideo(ctx, videoID)
	require.NoError(t, err)
	require.Equal(t, int64(20), latest.ViewCount)
}

func TestClaimDueSchedulesIsAtomicAcrossConcurrentCallers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	const total = 10
	for i := 0; i < total; i++ {
		videoID := seedVideo(t, s, int64(1000+i), "dueS"+string(rune('A'+i)), 1, now.Add(-time.Hour))
		require.NoError(t, s.UpsertSchedule(ctx, MetricSchedule{
			VideoID:   videoID,
			NextDueAt: now.Add(-time.Minute),
			Status:    ScheduleIdle,
		}))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{}
	var dup bool

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimDueSchedules(ctx, now, total)
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, c := range claimed {
				if seen[c.ScheduleID] {
					dup = true
				}
				seen[c.ScheduleID] = true
			}
		}()
	}
	wg.Wait()

	require.False(t, dup, "no schedule id should appear in two concurrent claims")
	require.Len(t, seen, total, "union of claimed batches equals all due schedules")
}

func TestReapExpiredLeasesReturnsStuckRowsToIdle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	videoID := seedVideo(t, s, 300, "S3", 1, now.Add(-time.Hour))

	require.NoError(t, s.UpsertSchedule(ctx, MetricSchedule{
		VideoID:   videoID,
		NextDueAt: now.Add(time.Hour),
		Status:    ScheduleRunning,
	}))

	// The row's updated_at is "now"; reaping with a future cutoff should catch it.
	count, err := s.ReapExpiredLeases(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	sched, err := s.ScheduleForVideo(ctx, videoID)
	require.NoError(t, err)
	require.Equal(t, ScheduleIdle, sched.Status)
}

func TestReleaseScheduleAdvancesDueTimeAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	videoID := seedVideo(t, s, 400, "S4", 1, now.Add(-30*time.Minute))

	require.NoError(t, s.UpsertSchedule(ctx, MetricSchedule{
		VideoID:   videoID,
		NextDueAt: now.Add(-time.Second),
		Status:    ScheduleIdle,
	}))

	claimed, err := s.ClaimDueSchedules(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	nextDue := now.Add(2 * time.Hour)
	lastRun := now
	require.NoError(t, s.ReleaseSchedule(ctx, claimed[0].ScheduleID, nextDue, &lastRun, ScheduleIdle))

	sched, err := s.ScheduleForVideo(ctx, videoID)
	require.NoError(t, err)
	require.Equal(t, ScheduleIdle, sched.Status)
	require.True(t, sched.NextDueAt.After(now))
}
