package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the fully resolved, typed configuration for the worker process.
// It is built once at startup by Load and never mutated afterwards.
type Config struct {
	DatabaseURL string

	DiscoverInterval   time.Duration
	RescheduleInterval time.Duration
	DispatchInterval   time.Duration
	HeartbeatInterval  time.Duration
	ReelsLimit         int

	AudioDir string

	UpstreamBaseURL string
	SessionToken    string
	CSRFToken       string
	Username        string
	Password        string
	Proxy           string
	SessionFile     string
	RequestTimeout  time.Duration
	RetryBudget     int

	FFmpegPath            string
	FFmpegTimeout         time.Duration
	TranscribeConcurrency int

	TestMode bool

	AdminListenAddr  string
	SeedRateLimitRPS int
	WorkerName       string
	LogLevel         string
}

// Load resolves Config from the process environment. Unknown keys are
// ignored so the worker can share an env file with sibling services.
// Missing required keys are reported together in a single ConfigError.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        ParseString("DATABASE_URL", ""),
		DiscoverInterval:   time.Duration(ParseInt("WORKER_INTERVAL_HOURS", 6)) * time.Hour,
		RescheduleInterval: time.Duration(ParseInt("WORKER_RESCHEDULE_INTERVAL_HOURS", 1)) * time.Hour,
		DispatchInterval:   time.Duration(ParseInt("WORKER_DISPATCH_INTERVAL_SECONDS", 60)) * time.Second,
		HeartbeatInterval:  time.Duration(ParseInt("WORKER_HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second,
		ReelsLimit:         ParseInt("WORKER_REELS_LIMIT", 50),
		AudioDir:           ParseString("AUDIO_DIR", "audio"),
		UpstreamBaseURL:    ParseString("UPSTREAM_BASE_URL", "https://i.instagram.com/api/v1"),
		SessionToken:       ParseString("SESSION_TOKEN", ""),
		CSRFToken:          ParseString("CSRF_TOKEN", ""),
		Username:           ParseString("USERNAME", ""),
		Password:           ParseString("PASSWORD", ""),
		Proxy:              ParseString("PROXY", ""),
		SessionFile:        ParseString("SESSION_FILE", "session.json"),
		RequestTimeout:     time.Duration(ParseInt("UPSTREAM_TIMEOUT_SECONDS", 30)) * time.Second,
		RetryBudget:        ParseInt("UPSTREAM_RETRY_BUDGET", 3),
		FFmpegPath:         ParseString("FFMPEG_PATH", "ffmpeg"),
		FFmpegTimeout:      time.Duration(ParseInt("FFMPEG_TIMEOUT_SECONDS", 120)) * time.Second,
		TranscribeConcurrency: ParseInt("TRANSCRIBE_CONCURRENCY", 2),
		TestMode:           ParseBool("TEST_MODE", false),
		AdminListenAddr:    ParseString("ADMIN_LISTEN_ADDR", ":8080"),
		SeedRateLimitRPS:   ParseInt("SEED_RATE_LIMIT_RPS", 5),
		WorkerName:         ParseString("WORKER_NAME", "video-stats-worker"),
		LogLevel:           ParseString("LOG_LEVEL", "info"),
	}

	if cfg.TestMode {
		cfg.applyTestModeCadence()
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	hasSession := cfg.SessionToken != ""
	hasPassword := cfg.Username != "" && cfg.Password != ""
	if !hasSession && !hasPassword {
		missing = append(missing, "SESSION_TOKEN (or USERNAME+PASSWORD)")
	}

	if len(missing) > 0 {
		return nil, &ConfigError{Keys: missing}
	}

	return cfg, nil
}

// applyTestModeCadence compresses all scheduler cadences to short intervals
// so integration tests don't wait hours for a discover/reschedule tick.
func (c *Config) applyTestModeCadence() {
	c.DiscoverInterval = 30 * time.Second
	c.RescheduleInterval = 20 * time.Second
	c.DispatchInterval = 10 * time.Second
	c.HeartbeatInterval = 10 * time.Second
}

// ValidateProxyScheme checks that a configured proxy URL uses one of the
// supported schemes; it is a no-op when no proxy is configured.
func ValidateProxyScheme(proxy string) error {
	if proxy == "" {
		return nil
	}
	for _, scheme := range []string{"http://", "https://", "socks5://", "socks5h://"} {
		if strings.HasPrefix(proxy, scheme) {
			return nil
		}
	}
	return fmt.Errorf("unsupported proxy scheme: %s", proxy)
}

// EnsureAudioDir is invoked by bootstrap to ensure the audio output
// directory exists before the scheduler starts enriching videos.
func EnsureAudioDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
