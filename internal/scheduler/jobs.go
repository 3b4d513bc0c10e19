package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/tummerk/video-stats/internal/log"
	"github.com/tummerk/video-stats/internal/schedule"
	"github.com/tummerk/video-stats/internal/store"
	"github.com/tummerk/video-stats/internal/upstream"
)

// runDiscover walks every tracked account, fetches its recent media, and
// creates a Video row plus an idle MetricSchedule for anything not already
// known. It assumes upstream returns newest-first and stops at the first
// shortcode already on file, unless the account opts into a full scan.
func (s *Scheduler) runDiscover(ctx context.Context) error {
	logger := log.WithComponent("scheduler.discover")

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, account := range accounts {
		acctLogger := logger.With().Int64("account", account.ID).Str("username", account.Username).Logger()

		media, err := s.upstream.RecentMedia(ctx, account.ID, s.cfg.ReelsLimit)
		if err != nil {
			switch {
			case errors.Is(err, upstream.ErrNotFound):
				acctLogger.Info().Msg("account not found upstream, skipping")
				continue
			case errors.Is(err, upstream.ErrAuth), errors.Is(err, upstream.ErrRateLimited):
				acctLogger.Warn().Err(err).Msg("aborting discover tick early")
				return nil
			default:
				acctLogger.Warn().Err(err).Msg("recent media fetch failed, skipping account this tick")
				continue
			}
		}

		if len(media) > 0 && media[0].FollowersCount != account.FollowersCount {
			account.FollowersCount = media[0].FollowersCount
			if err := s.store.UpsertAccount(ctx, account); err != nil {
				acctLogger.Warn().Err(err).Msg("follower count refresh failed")
			}
		}

		for _, m := range media {
			shortLogger := acctLogger.With().Str("shortcode", m.Shortcode).Logger()

			_, err := s.store.GetVideoByShortcode(ctx, m.Shortcode)
			if err == nil {
				if !account.FullScan {
					break
				}
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				shortLogger.Warn().Err(err).Msg("lookup failed, skipping item")
				continue
			}

			enrichment := s.enricher.Enrich(ctx, m.Shortcode, m.URL)

			videoID, err := s.store.UpsertVideo(ctx, store.Video{
				VideoID:         m.VideoID,
				Shortcode:       m.Shortcode,
				AccountID:       account.ID,
				VideoURL:        m.URL,
				AudioURL:        m.AudioURL,
				AudioFilePath:   enrichment.AudioPath,
				Transcription:   enrichment.Transcription,
				Caption:         m.Caption,
				DurationSeconds: m.DurationSeconds,
				PublishedAt:     m.PublishedAt,
			})
			if err != nil {
				shortLogger.Error().Err(err).Msg("upsert video failed")
				continue
			}

			if err := s.store.UpsertSchedule(ctx, store.MetricSchedule{
				VideoID:   videoID,
				NextDueAt: schedule.NextDue(m.PublishedAt, now),
				Status:    store.ScheduleIdle,
			}); err != nil {
				shortLogger.Error().Err(err).Msg("upsert schedule failed")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.InterAccountDelay):
		}
	}
	return nil
}

// runReschedule recomputes next_due_at for every idle schedule from the
// current cadence policy. Running leases are left untouched.
func (s *Scheduler) runReschedule(ctx context.Context) error {
	logger := log.WithComponent("scheduler.reschedule")

	videos, err := s.store.ListAllVideos(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, v := range videos {
		sched, err := s.store.ScheduleForVideo(ctx, v.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			logger.Error().Err(err).Int64("video_id", v.ID).Msg("read schedule failed")
			continue
		}
		if sched.Status != store.ScheduleIdle {
			continue
		}

		next := schedule.NextDue(v.PublishedAt, now)
		sched.NextDueAt = next
		sched.IntervalSeconds = int64(next.Sub(now).Seconds())
		if err := s.store.UpsertSchedule(ctx, sched); err != nil {
			logger.Error().Err(err).Int64("video_id", v.ID).Msg("reschedule failed")
		}
	}
	return nil
}

// runDispatchDue claims a batch of due schedules, fetches fresh counts for
// each, appends a Metric row, and advances the schedule — classifying
// upstream failures into the documented per-schedule outcomes. A not-found
// or transient failure affects only that video's schedule; a rate-limit or
// auth error releases that schedule and stops the batch, leaving the rest
// of the claimed schedules in 'running' until the lease reaper returns them.
func (s *Scheduler) runDispatchDue(ctx context.Context) error {
	logger := log.WithComponent("scheduler.dispatch-due")

	now := s.clock.Now()
	batch, err := s.store.ClaimDueSchedules(ctx, now, s.cfg.DispatchBatchSize)
	if err != nil {
		return err
	}

	for _, claimed := range batch {
		itemLogger := logger.With().Int64("schedule_id", claimed.ScheduleID).Int64("video_id", claimed.UpstreamVideoID).Logger()

		metrics, err := s.upstream.MediaMetrics(ctx, claimed.UpstreamVideoID)
		switch {
		case err == nil:
			runAt := s.clock.Now()
			if appendErr := s.store.AppendMetric(ctx, store.Metric{
				VideoID:        claimed.VideoID,
				ViewCount:      metrics.ViewCount,
				LikeCount:      metrics.LikeCount,
				CommentCount:   metrics.CommentCount,
				SaveCount:      metrics.SaveCount,
				FollowersCount: metrics.FollowersCount,
				MeasuredAt:     runAt,
			}); appendErr != nil {
				itemLogger.Error().Err(appendErr).Msg("append metric failed")
			}

			nextDue := schedule.NextDue(claimed.PublishedAt, runAt)
			if releaseErr := s.store.ReleaseSchedule(ctx, claimed.ScheduleID, nextDue, &runAt, store.ScheduleIdle); releaseErr != nil {
				itemLogger.Error().Err(releaseErr).Msg("release schedule failed")
			}
			dispatchOutcomesTotal.WithLabelValues("success").Inc()

		case errors.Is(err, upstream.ErrNotFound):
			farFuture := s.clock.Now().AddDate(100, 0, 0)
			if releaseErr := s.store.ReleaseSchedule(ctx, claimed.ScheduleID, farFuture, nil, store.ScheduleDisabled); releaseErr != nil {
				itemLogger.Error().Err(releaseErr).Msg("disable schedule failed")
			}
			itemLogger.Info().Msg("media gone upstream, schedule disabled")
			dispatchOutcomesTotal.WithLabelValues("disabled").Inc()

		case errors.Is(err, upstream.ErrRateLimited):
			var upErr *upstream.UpstreamError
			retryAfter := time.Minute
			if errors.As(err, &upErr) && upErr.RetryAfter > 0 {
				retryAfter = upErr.RetryAfter
			}
			nextDue := s.clock.Now().Add(retryAfter)
			if releaseErr := s.store.ReleaseSchedule(ctx, claimed.ScheduleID, nextDue, nil, store.ScheduleIdle); releaseErr != nil {
				itemLogger.Error().Err(releaseErr).Msg("release schedule failed after rate limit")
			}
			itemLogger.Warn().Dur("retry_after", retryAfter).Msg("rate limited, backing off and stopping this batch")
			dispatchOutcomesTotal.WithLabelValues("rate_limited").Inc()
			return nil

		case errors.Is(err, upstream.ErrAuth):
			nextDue := s.clock.Now().Add(time.Minute)
			if releaseErr := s.store.ReleaseSchedule(ctx, claimed.ScheduleID, nextDue, nil, store.ScheduleIdle); releaseErr != nil {
				itemLogger.Error().Err(releaseErr).Msg("release schedule failed after auth error")
			}
			itemLogger.Warn().Err(err).Msg("authentication failed, stopping this batch")
			dispatchOutcomesTotal.WithLabelValues("auth_error").Inc()
			return nil

		default:
			nextDue := s.clock.Now().Add(60 * time.Second)
			if releaseErr := s.store.ReleaseSchedule(ctx, claimed.ScheduleID, nextDue, nil, store.ScheduleIdle); releaseErr != nil {
				itemLogger.Error().Err(releaseErr).Msg("release schedule failed after transient error")
			}
			itemLogger.Warn().Err(err).Msg("transient upstream failure, retrying later")
			dispatchOutcomesTotal.WithLabelValues("transient").Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.InterMetricDelay):
		}
	}
	return nil
}

// runHeartbeat upserts this worker's liveness row.
func (s *Scheduler) runHeartbeat(ctx context.Context) error {
	return s.store.UpsertHeartbeat(ctx, s.cfg.WorkerName, store.HeartbeatRunning)
}
