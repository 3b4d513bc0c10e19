// Package upstream provides authenticated, rate-limited access to the
// tracked social platform: login/session reuse, recent-media listing, and
// per-media metric fetches.
package upstream

import (
	"context"
	"time"
)

// MediaSummary is one entry returned by recent-media listing.
type MediaSummary struct {
	VideoID         int64
	Shortcode       string
	URL             string
	Caption         string
	DurationSeconds int64
	PublishedAt     time.Time
	AudioURL        string
	ViewCount       int64
	LikeCount       int64
	CommentCount    int64
	FollowersCount  int64
}

// MediaMetrics is the per-media sample returned by media_metrics.
type MediaMetrics struct {
	ViewCount      int64
	LikeCount      int64
	CommentCount   int64
	SaveCount      *int64
	FollowersCount int64
}

// Client is the narrow capability set the core depends on. The HTTP
// implementation lives in client.go; tests may substitute a fake.
type Client interface {
	Authenticate(ctx context.Context) error
	ResolveUsername(ctx context.Context, username string) (int64, error)
	RecentMedia(ctx context.Context, userPK int64, limit int) ([]MediaSummary, error)
	MediaMetrics(ctx context.Context, videoID int64) (MediaMetrics, error)
}
