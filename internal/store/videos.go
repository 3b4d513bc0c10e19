package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetVideoByShortcode looks up a video by its upstream opaque shortcode.
// It returns a *StoreError wrapping ErrNotFound when no row matches.
func (s *Store) GetVideoByShortcode(ctx context.Context, shortcode string) (Video, error) {
	var v Video
	err := withRetry(ctx, "get_video_by_shortcode", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, video_id, shortcode, account_id, video_url, audio_url, audio_file_path,
				transcription, caption, duration_seconds, published_at, created_at, updated_at
			FROM videos WHERE shortcode = ?
		`, shortcode)
		var scanErr error
		v, scanErr = scanVideo(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Video{}, newNotFound("get_video_by_shortcode")
		}
		return Video{}, err
	}
	return v, nil
}

// UpsertVideo inserts a new video or, on conflict by video_id, leaves
// immutable fields (shortcode, account_id, published_at) untouched and
// only fills audio_file_path/transcription when they are currently null,
// so a later enrichment retry can complete a previously partial row
// without clobbering a value a prior retry already wrote.
func (s *Store) UpsertVideo(ctx context.Context, v Video) (int64, error) {
	now := formatTime(time.Now())
	var id int64
	err := withRetry(ctx, "upsert_video", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO videos (
				video_id, shortcode, account_id, video_url, audio_url, audio_file_path,
				transcription, caption, duration_seconds, published_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(video_id) DO UPDATE SET
				audio_file_path = COALESCE(videos.audio_file_path, excluded.audio_file_path),
				transcription = COALESCE(videos.transcription, excluded.transcription),
				updated_at = excluded.updated_at
		`, v.VideoID, v.Shortcode, v.AccountID, v.VideoURL, v.AudioURL, nullableString(v.AudioFilePath),
			nullableString(v.Transcription), v.Caption, v.DurationSeconds,
			formatTime(v.PublishedAt), now, now)
		if err != nil {
			return err
		}
		// An ON CONFLICT update leaves LastInsertId at whatever the connection
		// last inserted, so the id is always read back by the unique video_id.
		row := s.db.QueryRowContext(ctx, "SELECT id FROM videos WHERE video_id = ?", v.VideoID)
		return row.Scan(&id)
	})
	return id, err
}

// RecentVideos returns up to limit videos ordered by published_at descending.
func (s *Store) RecentVideos(ctx context.Context, limit int) ([]Video, error) {
	var videos []Video
	err := withRetry(ctx, "recent_videos", func() error {
		videos = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, video_id, shortcode, account_id, video_url, audio_url, audio_file_path,
				transcription, caption, duration_seconds, published_at, created_at, updated_at
			FROM videos ORDER BY published_at DESC LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			v, err := scanVideo(rows)
			if err != nil {
				return err
			}
			videos = append(videos, v)
		}
		return rows.Err()
	})
	return videos, err
}

// ListAllVideos returns every video row, oldest first. Used by the
// reschedule job, which must visit every video regardless of age.
func (s *Store) ListAllVideos(ctx context.Context) ([]Video, error) {
	var videos []Video
	err := withRetry(ctx, "list_all_videos", func() error {
		videos = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, video_id, shortcode, account_id, video_url, audio_url, audio_file_path,
				transcription, caption, duration_seconds, published_at, created_at, updated_at
			FROM videos ORDER BY published_at ASC
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			v, err := scanVideo(rows)
			if err != nil {
				return err
			}
			videos = append(videos, v)
		}
		return rows.Err()
	})
	return videos, err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanVideo(row interface{ Scan(dest ...interface{}) error }) (Video, error) {
	var v Video
	var audioFilePath, transcription, caption sql.NullString
	var publishedAt, createdAt, updatedAt string

	err := row.Scan(
		&v.ID, &v.VideoID, &v.Shortcode, &v.AccountID, &v.VideoURL, &v.AudioURL, &audioFilePath,
		&transcription, &caption, &v.DurationSeconds, &publishedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return Video{}, err
	}
	v.AudioFilePath = audioFilePath.String
	v.Transcription = transcription.String
	v.Caption = caption.String
	v.PublishedAt = parseTime(sql.NullString{String: publishedAt, Valid: true})
	v.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
	v.UpdatedAt = parseTime(sql.NullString{String: updatedAt, Valid: true})
	return v, nil
}
