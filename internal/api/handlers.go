// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tummerk/video-stats/internal/log"
	"github.com/tummerk/video-stats/internal/store"
)

const defaultRecentVideosLimit = 50

// AccountResponse is the JSON shape of one row in GET /api/accounts.
type AccountResponse struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	ProfileURL     string    `json:"profile_url,omitempty"`
	FollowersCount int64     `json:"followers_count"`
	FullScan       bool      `json:"full_scan"`
	VideoCount     int64     `json:"video_count"`
	MetricCount    int64     `json:"metric_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	accounts, err := s.store.ListAccountsWithCounts(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("list accounts failed")
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, AccountResponse{
			ID:             a.ID,
			Username:       a.Username,
			ProfileURL:     a.ProfileURL,
			FollowersCount: a.FollowersCount,
			FullScan:       a.FullScan,
			VideoCount:     a.VideoCount,
			MetricCount:    a.MetricCount,
			CreatedAt:      a.CreatedAt,
			UpdatedAt:      a.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// MetricResponse is the latest known sample for a video, if any.
type MetricResponse struct {
	ViewCount      int64     `json:"view_count"`
	LikeCount      int64     `json:"like_count"`
	CommentCount   int64     `json:"comment_count"`
	SaveCount      *int64    `json:"save_count,omitempty"`
	FollowersCount int64     `json:"followers_count"`
	MeasuredAt     time.Time `json:"measured_at"`
}

// VideoResponse is the JSON shape of one row in GET /api/videos.
type VideoResponse struct {
	ID              int64           `json:"id"`
	VideoID         int64           `json:"video_id"`
	Shortcode       string          `json:"shortcode"`
	AccountID       int64           `json:"account_id"`
	Caption         string          `json:"caption,omitempty"`
	DurationSeconds int64           `json:"duration_seconds"`
	PublishedAt     time.Time       `json:"published_at"`
	AudioFilePath   string          `json:"audio_file_path,omitempty"`
	Transcription   string          `json:"transcription,omitempty"`
	LatestMetric    *MetricResponse `json:"latest_metric,omitempty"`
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	limit := defaultRecentVideosLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	videos, err := s.store.RecentVideos(r.Context(), limit)
	if err != nil {
		logger.Error().Err(err).Msg("list videos failed")
		writeError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}

	out := make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp := VideoResponse{
			ID:              v.ID,
			VideoID:         v.VideoID,
			Shortcode:       v.Shortcode,
			AccountID:       v.AccountID,
			Caption:         v.Caption,
			DurationSeconds: v.DurationSeconds,
			PublishedAt:     v.PublishedAt,
			AudioFilePath:   v.AudioFilePath,
			Transcription:   v.Transcription,
		}
		if m, err := s.store.LatestMetricForVideo(r.Context(), v.ID); err == nil {
			resp.LatestMetric = &MetricResponse{
				ViewCount:      m.ViewCount,
				LikeCount:      m.LikeCount,
				CommentCount:   m.CommentCount,
				SaveCount:      m.SaveCount,
				FollowersCount: m.FollowersCount,
				MeasuredAt:     m.MeasuredAt,
			}
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// HealthResponse reports derived worker liveness.
type HealthResponse struct {
	WorkerName    string    `json:"worker_name"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// deriveHealthStatus maps heartbeat freshness to running/stale/stopped per
// the documented rule: running if last_heartbeat is within 2x the
// heartbeat interval, stale if older than that but the recorded status is
// still "running", stopped if the worker cleanly shut down.
func deriveHealthStatus(hb store.WorkerHeartbeat, heartbeatInterval time.Duration, now time.Time) string {
	if hb.Status == store.HeartbeatStopped {
		return "stopped"
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if now.Sub(hb.LastHeartbeat) <= 2*heartbeatInterval {
		return "running"
	}
	return "stale"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	hb, err := s.store.GetHeartbeat(r.Context(), s.workerName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, HealthResponse{WorkerName: s.workerName, Status: "unknown"})
			return
		}
		logger.Error().Err(err).Msg("get heartbeat failed")
		writeError(w, http.StatusInternalServerError, "failed to read heartbeat")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		WorkerName:    hb.WorkerName,
		Status:        deriveHealthStatus(hb, s.heartbeatInterval, time.Now()),
		LastHeartbeat: hb.LastHeartbeat,
	})
}

// SeedRecord is one entry in the bulk account seed request body.
type SeedRecord struct {
	Username string `json:"username"`
	UserPK   *int64 `json:"user_pk"`
}

// SeedResponse summarizes the outcome of a bulk seed request.
type SeedResponse struct {
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Rejected []string `json:"rejected,omitempty"`
}

func (s *Server) handleSeedAccounts(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	var records []SeedRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolved := make([]SeedRecord, len(records))
	rejected := make([]string, len(records))

	group, ctx := errgroup.WithContext(r.Context())
	group.SetLimit(4)
	for i, rec := range records {
		i, rec := i, rec
		group.Go(func() error {
			resolved[i] = rec
			if rec.UserPK != nil {
				return nil
			}
			if s.upstream == nil {
				rejected[i] = rec.Username
				return nil
			}
			pk, err := s.upstream.ResolveUsername(ctx, rec.Username)
			if err != nil {
				logger.Warn().Err(err).Str("username", rec.Username).Msg("resolve_username failed during seed")
				rejected[i] = rec.Username
				return nil
			}
			resolved[i].UserPK = &pk
			return nil
		})
	}
	_ = group.Wait()

	resp := SeedResponse{}
	for i, rec := range resolved {
		if rejected[i] != "" {
			resp.Rejected = append(resp.Rejected, rejected[i])
			continue
		}
		if rec.UserPK == nil {
			resp.Rejected = append(resp.Rejected, rec.Username)
			continue
		}
		inserted, err := s.store.InsertAccountIfNotExists(r.Context(), store.Account{ID: *rec.UserPK, Username: rec.Username})
		if err != nil {
			logger.Error().Err(err).Str("username", rec.Username).Msg("seed insert failed")
			resp.Rejected = append(resp.Rejected, rec.Username)
			continue
		}
		if !inserted {
			resp.Skipped++
			continue
		}
		resp.Inserted++
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
