package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AppendMetric inserts an immutable metric observation for a video. Metrics
// are never updated once written.
func (s *Store) AppendMetric(ctx context.Context, m Metric) error {
	now := formatTime(time.Now())
	return withRetry(ctx, "append_metric", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO metrics (video_id, view_count, like_count, comment_count, save_count, followers_count, measured_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.VideoID, m.ViewCount, m.LikeCount, m.CommentCount, m.SaveCount, m.FollowersCount,
			formatTime(m.MeasuredAt), now)
		return err
	})
}

// LatestMetricForVideo returns the most recently measured metric row for a
// video, or a *StoreError wrapping ErrNotFound if none exists yet.
func (s *Store) LatestMetricForVideo(ctx context.Context, videoID int64) (Metric, error) {
	var m Metric
	err := withRetry(ctx, "latest_metric_for_video", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, video_id, view_count, like_count, comment_count, save_count, followers_count, measured_at, created_at
			FROM metrics WHERE video_id = ? ORDER BY measured_at DESC LIMIT 1
		`, videoID)
		var scanErr error
		m, scanErr = scanMetric(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Metric{}, newNotFound("latest_metric_for_video")
		}
		return Metric{}, err
	}
	return m, nil
}

func scanMetric(row interface{ Scan(dest ...interface{}) error }) (Metric, error) {
	var m Metric
	var saveCount sql.NullInt64
	var measuredAt, createdAt string

	err := row.Scan(&m.ID, &m.VideoID, &m.ViewCount, &m.LikeCount, &m.CommentCount, &saveCount,
		&m.FollowersCount, &measuredAt, &createdAt)
	if err != nil {
		return Metric{}, err
	}
	if saveCount.Valid {
		v := saveCount.Int64
		m.SaveCount = &v
	}
	m.MeasuredAt = parseTime(sql.NullString{String: measuredAt, Valid: true})
	m.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
	return m, nil
}
