package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClaimedSchedule is a MetricSchedule row leased to the caller by
// ClaimDueSchedules, joined with the video fields dispatch-due needs
// (video_id to call the upstream, published_at to recompute the next due
// time without a second round trip to Store).
type ClaimedSchedule struct {
	ScheduleID      int64
	VideoID         int64
	UpstreamVideoID int64
	PublishedAt     time.Time
}

// ScheduleForVideo returns the MetricSchedule row for a video, or a
// *StoreError wrapping ErrNotFound if it has none yet.
func (s *Store) ScheduleForVideo(ctx context.Context, videoID int64) (MetricSchedule, error) {
	var sched MetricSchedule
	err := withRetry(ctx, "schedule_for_video", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, video_id, next_due_at, last_run_at, interval_seconds, status, updated_at
			FROM metric_schedules WHERE video_id = ?
		`, videoID)
		var scanErr error
		sched, scanErr = scanSchedule(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MetricSchedule{}, newNotFound("schedule_for_video")
		}
		return MetricSchedule{}, err
	}
	return sched, nil
}

// UpsertSchedule inserts or fully replaces the single schedule row for a video.
func (s *Store) UpsertSchedule(ctx context.Context, sched MetricSchedule) error {
	now := formatTime(time.Now())
	return withRetry(ctx, "upsert_schedule", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO metric_schedules (video_id, next_due_at, last_run_at, interval_seconds, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(video_id) DO UPDATE SET
				next_due_at = excluded.next_due_at,
				last_run_at = excluded.last_run_at,
				interval_seconds = excluded.interval_seconds,
				status = excluded.status,
				updated_at = excluded.updated_at
		`, sched.VideoID, formatTime(sched.NextDueAt), timeOrNil(sched.LastRunAt),
			sched.IntervalSeconds, string(sched.Status), now)
		return err
	})
}

// ClaimDueSchedules is the at-most-once dispatch gate: in a single write
// transaction it selects up to limit idle schedules due at or before now
// and flips them to running before returning, so two concurrent dispatch
// ticks can never observe the same row as idle. SQLite serializes write
// transactions against a single database file, which is what makes the
// select-then-update atomic across goroutines without an explicit
// application-level lock.
func (s *Store) ClaimDueSchedules(ctx context.Context, now time.Time, limit int) ([]ClaimedSchedule, error) {
	var claimed []ClaimedSchedule
	err := withRetry(ctx, "claim_due_schedules", func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT ms.id, ms.video_id, v.video_id, v.published_at
			FROM metric_schedules ms
			JOIN videos v ON v.id = ms.video_id
			WHERE ms.status = ? AND ms.next_due_at <= ?
			ORDER BY ms.next_due_at
			LIMIT ?
		`, string(ScheduleIdle), formatTime(now), limit)
		if err != nil {
			return err
		}

		var ids []int64
		for rows.Next() {
			var cs ClaimedSchedule
			var publishedAt string
			if err := rows.Scan(&cs.ScheduleID, &cs.VideoID, &cs.UpstreamVideoID, &publishedAt); err != nil {
				_ = rows.Close()
				return err
			}
			cs.PublishedAt = parseTime(sql.NullString{String: publishedAt, Valid: true})
			claimed = append(claimed, cs)
			ids = append(ids, cs.ScheduleID)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		if len(ids) == 0 {
			return tx.Commit()
		}

		placeholders := make([]string, len(ids))
		args := make([]interface{}, 0, len(ids)+1)
		args = append(args, formatTime(now))
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query := fmt.Sprintf(
			"UPDATE metric_schedules SET status = '%s', updated_at = ? WHERE id IN (%s)",
			ScheduleRunning, strings.Join(placeholders, ","),
		)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}

		return tx.Commit()
	})
	return claimed, err
}

// ReleaseSchedule returns a leased schedule to idle (or disabled) and
// advances its due time, recording the run that just completed.
func (s *Store) ReleaseSchedule(ctx context.Context, scheduleID int64, nextDueAt time.Time, lastRunAt *time.Time, status ScheduleStatus) error {
	now := formatTime(time.Now())
	intervalSeconds := int64(0)
	if !nextDueAt.IsZero() && lastRunAt != nil {
		intervalSeconds = int64(nextDueAt.Sub(*lastRunAt).Seconds())
	}
	return withRetry(ctx, "release_schedule", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE metric_schedules
			SET status = ?, next_due_at = ?, last_run_at = ?, interval_seconds = ?, updated_at = ?
			WHERE id = ?
		`, string(status), formatTime(nextDueAt), timeOrNil(lastRunAt), intervalSeconds, now, scheduleID)
		return err
	})
}

// ReapExpiredLeases rewrites every schedule stuck in 'running' with an
// updated_at older than olderThan back to 'idle', recovering leases
// orphaned by a crash between claim and release. It returns the number of
// rows reclaimed.
func (s *Store) ReapExpiredLeases(ctx context.Context, olderThan time.Time) (int64, error) {
	var count int64
	err := withRetry(ctx, "reap_expired_leases", func() error {
		now := formatTime(time.Now())
		res, err := s.db.ExecContext(ctx, `
			UPDATE metric_schedules
			SET status = ?, updated_at = ?
			WHERE status = ? AND updated_at < ?
		`, string(ScheduleIdle), now, string(ScheduleRunning), formatTime(olderThan))
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

func scanSchedule(row interface{ Scan(dest ...interface{}) error }) (MetricSchedule, error) {
	var sched MetricSchedule
	var lastRunAt sql.NullString
	var nextDueAt, updatedAt, status string

	err := row.Scan(&sched.ID, &sched.VideoID, &nextDueAt, &lastRunAt, &sched.IntervalSeconds, &status, &updatedAt)
	if err != nil {
		return MetricSchedule{}, err
	}
	sched.NextDueAt = parseTime(sql.NullString{String: nextDueAt, Valid: true})
	sched.LastRunAt = parseTimePtr(lastRunAt)
	sched.Status = ScheduleStatus(status)
	sched.UpdatedAt = parseTime(sql.NullString{String: updatedAt, Valid: true})
	return sched, nil
}
