// Copyright (c) 2026 video-stats authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tummerk/video-stats/internal/log"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
	minJitter         = 500 * time.Millisecond
	maxJitterSpread   = 1500 * time.Millisecond
	maxErrBody        = 4 * 1024
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "video_stats_upstream_request_duration_seconds",
		Help:    "Duration of upstream HTTP requests per attempt",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 8),
	}, []string{"operation", "status", "attempt"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_stats_upstream_request_failures_total",
		Help: "Number of failed upstream requests by error class",
	}, []string{"operation", "error_class"})
)

// Options configures an HTTPClient.
type Options struct {
	Proxy          string
	SessionPath    string
	SessionToken   string
	CSRFToken      string
	Username       string
	Password       string
	RequestTimeout time.Duration
	RetryBudget    int
}

// HTTPClient is the default Client implementation, talking to the upstream
// platform over HTTP with a single-concurrency, jittered, retrying gate.
type HTTPClient struct {
	base string
	http *http.Client
	log  zerolog.Logger

	gateMu  sync.Mutex
	limiter *rate.Limiter

	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	jitterMin  time.Duration
	jitterMax  time.Duration

	sessionPath string
	username    string
	password    string

	sessMu  sync.RWMutex
	session *Session
}

// NewHTTPClient builds an HTTPClient against baseURL. Proxy, when set,
// applies to every platform call made by this client — deliberately not to
// audio extraction, which is a separate concern (internal/enrich).
func NewHTTPClient(baseURL string, opts Options) (*HTTPClient, error) {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.RetryBudget
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	transport := &http.Transport{}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("upstream: invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &HTTPClient{
		base:        strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Transport: transport},
		log:         log.WithComponent("upstream"),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		timeout:     timeout,
		maxRetries:  retries,
		backoff:     defaultBackoff,
		maxBackoff:  defaultMaxBackoff,
		jitterMin:   minJitter,
		jitterMax:   maxJitterSpread,
		sessionPath: opts.SessionPath,
		username:    opts.Username,
		password:    opts.Password,
	}

	if opts.SessionToken != "" {
		c.session = &Session{Token: opts.SessionToken, CSRF: opts.CSRFToken}
	}

	return c, nil
}

// Authenticate resolves a usable session following the documented
// precedence: (a) reuse a persisted session blob, (b) a configured session
// token, (c) username+password, persisting the resulting session on
// success so a future restart can skip the password round trip.
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	if c.sessionPath != "" {
		if sess, ok, err := LoadSession(c.sessionPath); err != nil {
			c.log.Warn().Err(err).Msg("failed to load persisted session, falling back")
		} else if ok {
			c.sessMu.Lock()
			c.session = sess
			c.sessMu.Unlock()
			return nil
		}
	}

	c.sessMu.RLock()
	hasSession := c.session != nil
	c.sessMu.RUnlock()
	if hasSession {
		return nil
	}

	if c.username == "" || c.password == "" {
		return &UpstreamError{Sentinel: ErrAuth, Operation: "authenticate", Err: errors.New("no credentials configured")}
	}

	payload, _ := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/login", bytes.NewReader(payload), "authenticate")
	if err != nil {
		return err
	}

	var resp struct {
		Token string `json:"token"`
		CSRF  string `json:"csrf"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return &UpstreamError{Sentinel: ErrAuth, Operation: "authenticate", Err: err}
	}

	sess := &Session{Token: resp.Token, CSRF: resp.CSRF}
	c.sessMu.Lock()
	c.session = sess
	c.sessMu.Unlock()

	if c.sessionPath != "" {
		if err := SaveSession(c.sessionPath, sess); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist session")
		}
	}
	return nil
}

// ResolveUsername maps a username to the platform's numeric user key.
func (c *HTTPClient) ResolveUsername(ctx context.Context, username string) (int64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/users/resolve?username="+url.QueryEscape(username), nil, "resolve_username")
	if err != nil {
		return 0, err
	}
	var resp struct {
		UserPK int64 `json:"user_pk"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &UpstreamError{Sentinel: ErrAuth, Operation: "resolve_username", Err: err}
	}
	return resp.UserPK, nil
}

// RecentMedia lists up to limit recently published media for an account,
// newest first.
func (c *HTTPClient) RecentMedia(ctx context.Context, userPK int64, limit int) ([]MediaSummary, error) {
	path := fmt.Sprintf("/api/v1/users/%d/media/recent?limit=%d", userPK, limit)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, "recent_media")
	if err != nil {
		return nil, err
	}

	var items []struct {
		VideoID         int64  `json:"video_id"`
		Shortcode       string `json:"shortcode"`
		URL             string `json:"url"`
		Caption         string `json:"caption"`
		DurationSeconds int64  `json:"duration_seconds"`
		PublishedAt     int64  `json:"published_at"`
		AudioURL        string `json:"audio_url"`
		ViewCount       int64  `json:"view_count"`
		LikeCount       int64  `json:"like_count"`
		CommentCount    int64  `json:"comment_count"`
		FollowersCount  int64  `json:"followers_count"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &UpstreamError{Sentinel: ErrAuth, Operation: "recent_media", Err: err}
	}

	media := make([]MediaSummary, 0, len(items))
	for _, it := range items {
		media = append(media, MediaSummary{
			VideoID:         it.VideoID,
			Shortcode:       it.Shortcode,
			URL:             it.URL,
			Caption:         it.Caption,
			DurationSeconds: it.DurationSeconds,
			PublishedAt:     time.Unix(it.PublishedAt, 0).UTC(),
			AudioURL:        it.AudioURL,
			ViewCount:       it.ViewCount,
			LikeCount:       it.LikeCount,
			CommentCount:    it.CommentCount,
			FollowersCount:  it.FollowersCount,
		})
	}
	return media, nil
}

// MediaMetrics fetches the current engagement counts for one video.
func (c *HTTPClient) MediaMetrics(ctx context.Context, videoID int64) (MediaMetrics, error) {
	path := fmt.Sprintf("/api/v1/media/%d/metrics", videoID)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, "media_metrics")
	if err != nil {
		return MediaMetrics{}, err
	}

	var resp struct {
		ViewCount      int64  `json:"view_count"`
		LikeCount      int64  `json:"like_count"`
		CommentCount   int64  `json:"comment_count"`
		SaveCount      *int64 `json:"save_count"`
		FollowersCount int64  `json:"followers_count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return MediaMetrics{}, &UpstreamError{Sentinel: ErrAuth, Operation: "media_metrics", Err: err}
	}
	return MediaMetrics{
		ViewCount:      resp.ViewCount,
		LikeCount:      resp.LikeCount,
		CommentCount:   resp.CommentCount,
		SaveCount:      resp.SaveCount,
		FollowersCount: resp.FollowersCount,
	}, nil
}

// doRequest serializes every outbound call through the single-concurrency
// gate, then performs the retrying HTTP round trip.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body *bytes.Reader, operation string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Sentinel: ErrTransientNetwork, Operation: operation, Err: err}
	}

	c.gateMu.Lock()
	defer func() {
		jitter := c.jitterMin
		if c.jitterMax > 0 {
			jitter += time.Duration(rand.Int63n(int64(c.jitterMax)))
		}
		select {
		case <-ctx.Done():
		case <-time.After(jitter):
		}
		c.gateMu.Unlock()
	}()

	return c.doWithRetry(ctx, method, path, body, operation)
}

func (c *HTTPClient) doWithRetry(ctx context.Context, method, path string, body *bytes.Reader, operation string) ([]byte, error) {
	maxAttempts := c.maxRetries + 1
	var lastErr error
	var lastStatus int
	var lastBody []byte

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, status, retryAfter, err := c.attempt(ctx, method, path, body, operation, attempt, maxAttempts)
		success := err == nil && status == http.StatusOK
		if success {
			return data, nil
		}

		lastErr, lastStatus, lastBody = err, status, data

		if status == http.StatusTooManyRequests {
			return nil, &UpstreamError{Sentinel: ErrRateLimited, Operation: operation, Status: status, RetryAfter: retryAfter}
		}
		if status == http.StatusNotFound {
			return nil, &UpstreamError{Sentinel: ErrNotFound, Operation: operation, Status: status}
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, &UpstreamError{Sentinel: ErrAuth, Operation: operation, Status: status}
		}

		if !shouldRetry(status, err) || attempt == maxAttempts {
			break
		}

		sleep := c.backoffDuration(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return nil, wrapTransient(operation, lastErr, lastStatus, lastBody)
}

func (c *HTTPClient) attempt(ctx context.Context, method, path string, body *bytes.Reader, operation string, attempt, maxAttempts int) ([]byte, int, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody *bytes.Reader
	if body != nil {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, 0, 0, err
		}
		reqBody = body
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.base+path, reqBody)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.sessMu.RLock()
	sess := c.session
	c.sessMu.RUnlock()
	if sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
		if sess.CSRF != "" {
			req.Header.Set("X-CSRF-Token", sess.CSRF)
		}
	}

	start := time.Now()
	res, err := c.http.Do(req)
	duration := time.Since(start)

	var status int
	var retryAfter time.Duration
	var data []byte
	if res != nil {
		status = res.StatusCode
		retryAfter = parseRetryAfter(res.Header.Get("Retry-After"))
		defer func() { _ = res.Body.Close() }()
		limit := maxErrBody
		if status == http.StatusOK {
			limit = 1 << 20
		}
		data, _ = readLimited(res.Body, limit)
	}

	success := err == nil && status == http.StatusOK
	errClass := classifyError(err, status)
	requestDuration.WithLabelValues(operation, strconv.Itoa(status), strconv.Itoa(attempt)).Observe(duration.Seconds())
	if !success {
		requestFailures.WithLabelValues(operation, errClass).Inc()
	}

	logger := c.log.With().Str("operation", operation).Int("attempt", attempt).Int("max_attempts", maxAttempts).Int("status", status).Logger()
	if success {
		logger.Debug().Dur("duration", duration).Msg("upstream request completed")
	} else {
		logger.Warn().Err(err).Dur("duration", duration).Msg("upstream request failed")
	}

	return data, status, retryAfter, err
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return true
	}
	return status >= 500
}

func classifyError(err error, status int) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return "network"
		}
		return "error"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "ok"
}

func wrapTransient(operation string, err error, status int, body []byte) error {
	snippet := redactSnippet(body)
	if err != nil {
		return &UpstreamError{Sentinel: ErrTransientNetwork, Operation: operation, Status: status, Err: fmt.Errorf("%w: %s", err, snippet)}
	}
	return &UpstreamError{Sentinel: ErrTransientNetwork, Operation: operation, Status: status, Err: errors.New(snippet)}
}

func redactSnippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	limit := 200
	if len(body) < limit {
		limit = len(body)
	}
	snippet := string(body[:limit])
	for _, pattern := range []string{"token", "password", "secret", "csrf"} {
		if idx := strings.Index(strings.ToLower(snippet), pattern); idx != -1 {
			snippet = snippet[:idx] + "[REDACTED]"
			break
		}
	}
	return snippet
}

func (c *HTTPClient) backoffDuration(attempt int) time.Duration {
	factor := 1 << (attempt - 1)
	d := time.Duration(factor) * c.backoff
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func readLimited(r interface{ Read([]byte) (int, error) }, limit int) ([]byte, error) {
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 4096)
	for len(buf) < limit {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	if len(buf) > limit {
		buf = buf[:limit]
	}
	return buf, nil
}
