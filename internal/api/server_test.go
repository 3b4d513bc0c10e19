// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tummerk/video-stats/internal/store"
	"github.com/tummerk/video-stats/internal/upstream"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath, store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeUpstreamClient struct {
	resolved map[string]int64
}

func (f *fakeUpstreamClient) Authenticate(ctx context.Context) error { return nil }
func (f *fakeUpstreamClient) ResolveUsername(ctx context.Context, username string) (int64, error) {
	if pk, ok := f.resolved[username]; ok {
		return pk, nil
	}
	return 0, upstream.ErrNotFound
}
func (f *fakeUpstreamClient) RecentMedia(ctx context.Context, userPK int64, limit int) ([]upstream.MediaSummary, error) {
	return nil, nil
}
func (f *fakeUpstreamClient) MediaMetrics(ctx context.Context, videoID int64) (upstream.MediaMetrics, error) {
	return upstream.MediaMetrics{}, nil
}

func TestHandleListAccountsReturnsCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertAccount(ctx, store.Account{ID: 1, Username: "alice"}))

	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w", HeartbeatInterval: 30 * time.Second})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Username)
}

func TestHandleListVideosIncludesLatestMetric(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertAccount(ctx, store.Account{ID: 1, Username: "alice"}))
	videoID, err := st.UpsertVideo(ctx, store.Video{VideoID: 10, Shortcode: "s1", AccountID: 1, PublishedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, st.AppendMetric(ctx, store.Metric{VideoID: videoID, ViewCount: 42, MeasuredAt: time.Now()}))

	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w"})

	req := httptest.NewRequest(http.MethodGet, "/api/videos?limit=10", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []VideoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.NotNil(t, out[0].LatestMetric)
	assert.Equal(t, int64(42), out[0].LatestMetric.ViewCount)
}

func TestHandleListVideosRejectsInvalidLimit(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w"})

	req := httptest.NewRequest(http.MethodGet, "/api/videos?limit=abc", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthReportsUnknownWithoutHeartbeat(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w"})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "unknown", out.Status)
}

func TestHandleHealthReportsRunningWithinFreshnessWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertHeartbeat(ctx, "w", store.HeartbeatRunning))

	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w", HeartbeatInterval: 30 * time.Second})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "running", out.Status)
}

func TestHandleHealthReportsStaleAfterFreshnessWindow(t *testing.T) {
	hb := store.WorkerHeartbeat{WorkerName: "w", Status: store.HeartbeatRunning, LastHeartbeat: time.Now().Add(-time.Hour)}
	assert.Equal(t, "stale", deriveHealthStatus(hb, 30*time.Second, time.Now()))
}

func TestHandleHealthReportsStoppedWhenShutdownRecorded(t *testing.T) {
	hb := store.WorkerHeartbeat{WorkerName: "w", Status: store.HeartbeatStopped, LastHeartbeat: time.Now()}
	assert.Equal(t, "stopped", deriveHealthStatus(hb, 30*time.Second, time.Now()))
}

func TestHandleSeedAccountsInsertsWithExplicitUserPK(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w"})

	body, _ := json.Marshal([]SeedRecord{{Username: "alice", UserPK: int64Ptr(100)}})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/seed", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out SeedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Inserted)
	assert.Empty(t, out.Rejected)

	accounts, err := st.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, int64(100), accounts[0].ID)
}

func TestHandleSeedAccountsResolvesMissingUserPK(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(st, &fakeUpstreamClient{resolved: map[string]int64{"bob": 200}}, Config{WorkerName: "w"})

	body, _ := json.Marshal([]SeedRecord{{Username: "bob"}})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/seed", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out SeedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Inserted)
}

func TestHandleSeedAccountsRejectsUnresolvableUsername(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w"})

	body, _ := json.Marshal([]SeedRecord{{Username: "unknown"}})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/seed", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out SeedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 0, out.Inserted)
	assert.Contains(t, out.Rejected, "unknown")
}

func TestHandleSeedAccountsSkipsExistingAccountWithoutClobbering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertAccount(ctx, store.Account{
		ID:             100,
		Username:       "alice",
		ProfileURL:     "https://example.com/alice",
		FollowersCount: 42,
		FullScan:       true,
	}))

	srv := NewServer(st, &fakeUpstreamClient{}, Config{WorkerName: "w"})

	body, _ := json.Marshal([]SeedRecord{{Username: "alice", UserPK: int64Ptr(100)}})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/seed", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out SeedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 0, out.Inserted)
	assert.Equal(t, 1, out.Skipped)

	accounts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, int64(42), accounts[0].FollowersCount)
	assert.True(t, accounts[0].FullScan)
	assert.Equal(t, "https://example.com/alice", accounts[0].ProfileURL)
}

func int64Ptr(v int64) *int64 { return &v }
