package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"
)

// UpsertHeartbeat records that worker_name is alive (or, at shutdown,
// cleanly stopped) as of now.
func (s *Store) UpsertHeartbeat(ctx context.Context, workerName string, status HeartbeatStatus) error {
	now := formatTime(time.Now())
	pid := os.Getpid()
	return withRetry(ctx, "upsert_heartbeat", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO worker_heartbeats (worker_name, last_heartbeat, status, pid, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(worker_name) DO UPDATE SET
				last_heartbeat = excluded.last_heartbeat,
				status = excluded.status,
				pid = excluded.pid,
				updated_at = excluded.updated_at
		`, workerName, now, string(status), pid, now, now)
		return err
	})
}

// GetHeartbeat returns the liveness row for workerName, or a *StoreError
// wrapping ErrNotFound if it has never reported in.
func (s *Store) GetHeartbeat(ctx context.Context, workerName string) (WorkerHeartbeat, error) {
	var hb WorkerHeartbeat
	err := withRetry(ctx, "get_heartbeat", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT worker_name, last_heartbeat, status, pid, created_at, updated_at
			FROM worker_heartbeats WHERE worker_name = ?
		`, workerName)
		var lastHeartbeat, status, createdAt, updatedAt string
		scanErr := row.Scan(&hb.WorkerName, &lastHeartbeat, &status, &hb.PID, &createdAt, &updatedAt)
		if scanErr != nil {
			return scanErr
		}
		hb.LastHeartbeat = parseTime(sql.NullString{String: lastHeartbeat, Valid: true})
		hb.Status = HeartbeatStatus(status)
		hb.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
		hb.UpdatedAt = parseTime(sql.NullString{String: updatedAt, Valid: true})
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkerHeartbeat{}, newNotFound("get_heartbeat")
		}
		return WorkerHeartbeat{}, err
	}
	return hb, nil
}
