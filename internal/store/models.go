package store

import "time"

// ScheduleStatus is the small state machine driving MetricSchedule dispatch.
type ScheduleStatus string

const (
	ScheduleIdle     ScheduleStatus = "idle"
	ScheduleRunning  ScheduleStatus = "running"
	ScheduleDisabled ScheduleStatus = "disabled"
)

// HeartbeatStatus reflects whether the worker reported itself alive or shut
// down cleanly the last time it touched its heartbeat row.
type HeartbeatStatus string

const (
	HeartbeatRunning HeartbeatStatus = "running"
	HeartbeatStopped HeartbeatStatus = "stopped"
)

// Account is a tracked profile on the upstream platform. Its id is the
// platform's own stable numeric user key, never a locally generated
// surrogate.
type Account struct {
	ID             int64
	Username       string
	ProfileURL     string
	FollowersCount int64
	FullScan       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Video is a piece of media owned by one Account.
type Video struct {
	ID              int64
	VideoID         int64
	Shortcode       string
	AccountID       int64
	VideoURL        string
	AudioURL        string
	AudioFilePath   string
	Transcription   string
	Caption         string
	DurationSeconds int64
	PublishedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Metric is an immutable observation of a Video at an instant.
type Metric struct {
	ID             int64
	VideoID        int64
	ViewCount      int64
	LikeCount      int64
	CommentCount   int64
	SaveCount      *int64
	FollowersCount int64
	MeasuredAt     time.Time
	CreatedAt      time.Time
}

// MetricSchedule is the control-plane row driving dispatch-due.
type MetricSchedule struct {
	ID              int64
	VideoID         int64
	NextDueAt       time.Time
	LastRunAt       *time.Time
	IntervalSeconds int64
	Status          ScheduleStatus
	UpdatedAt       time.Time
}

// WorkerHeartbeat is the liveness record read by the Admin API.
type WorkerHeartbeat struct {
	WorkerName    string
	LastHeartbeat time.Time
	Status        HeartbeatStatus
	PID           int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
