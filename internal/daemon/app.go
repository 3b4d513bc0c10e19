package daemon

import (
	"context"
	"fmt"

	"github.com/tummerk/video-stats/internal/api"
	"github.com/tummerk/video-stats/internal/config"
	"github.com/tummerk/video-stats/internal/enrich"
	"github.com/tummerk/video-stats/internal/log"
	"github.com/tummerk/video-stats/internal/scheduler"
	"github.com/tummerk/video-stats/internal/store"
	"github.com/tummerk/video-stats/internal/upstream"
)

// App is the fully wired worker process: a Store, an upstream Client, an
// Enricher, a Scheduler and an admin API Server, composed behind a single
// Manager.
type App struct {
	Store     *store.Store
	Upstream  upstream.Client
	Scheduler *scheduler.Scheduler
	Manager   Manager

	workerName string
}

// Bootstrap builds an App from resolved configuration: it ensures the audio
// directory exists, opens the Store, constructs the upstream client and
// media enricher, runs the startup lease reaper, records the initial
// heartbeat, and wires the Scheduler and admin Server behind a Manager. It
// does not start anything; call App.Run to do that.
func Bootstrap(cfg *config.Config) (*App, error) {
	logger := log.WithComponent("bootstrap")

	if err := config.EnsureAudioDir(cfg.AudioDir); err != nil {
		return nil, fmt.Errorf("bootstrap: ensure audio dir: %w", err)
	}
	if err := config.ValidateProxyScheme(cfg.Proxy); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL, store.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store: %w", err)
	}

	upstreamClient, err := upstream.NewHTTPClient(cfg.UpstreamBaseURL, upstream.Options{
		Proxy:          cfg.Proxy,
		SessionPath:    cfg.SessionFile,
		SessionToken:   cfg.SessionToken,
		CSRFToken:      cfg.CSRFToken,
		Username:       cfg.Username,
		Password:       cfg.Password,
		RequestTimeout: cfg.RequestTimeout,
		RetryBudget:    cfg.RetryBudget,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("bootstrap: build upstream client: %w", err)
	}
	if err := upstreamClient.Authenticate(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("bootstrap: authenticate upstream client: %w", err)
	}

	enricher := enrich.New(
		&enrich.FFmpegExtractor{BinaryPath: cfg.FFmpegPath, Timeout: cfg.FFmpegTimeout},
		enrich.NoopTranscriber{},
		cfg.AudioDir,
		cfg.TranscribeConcurrency,
	)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.DiscoverInterval = cfg.DiscoverInterval
	schedCfg.RescheduleInterval = cfg.RescheduleInterval
	schedCfg.DispatchInterval = cfg.DispatchInterval
	schedCfg.HeartbeatInterval = cfg.HeartbeatInterval
	schedCfg.ReelsLimit = cfg.ReelsLimit
	schedCfg.WorkerName = cfg.WorkerName

	sched := scheduler.New(st, upstreamClient, enricher, schedCfg)

	ctx := context.Background()
	if err := sched.ReapStaleLeasesOnStartup(ctx); err != nil {
		logger.Warn().Err(err).Msg("startup lease reap failed, continuing")
	}
	if err := st.UpsertHeartbeat(ctx, cfg.WorkerName, store.HeartbeatRunning); err != nil {
		logger.Warn().Err(err).Msg("initial heartbeat write failed, continuing")
	}

	apiServer := api.NewServer(st, upstreamClient, api.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		WorkerName:        cfg.WorkerName,
		SeedRateLimitRPS:  cfg.SeedRateLimitRPS,
	})

	mgr := NewManager(DefaultServerConfig(cfg.AdminListenAddr), apiServer.Handler(), sched)
	// Hooks run LIFO: close-store is registered first so it runs last, after
	// mark-stopped has written the final heartbeat.
	mgr.RegisterShutdownHook("close-store", func(ctx context.Context) error {
		return st.Close()
	})
	mgr.RegisterShutdownHook("mark-stopped", func(ctx context.Context) error {
		return st.UpsertHeartbeat(ctx, cfg.WorkerName, store.HeartbeatStopped)
	})

	return &App{
		Store:      st,
		Upstream:   upstreamClient,
		Scheduler:  sched,
		Manager:    mgr,
		workerName: cfg.WorkerName,
	}, nil
}

// Run starts the Manager and blocks until ctx is cancelled or a server
// error occurs.
func (a *App) Run(ctx context.Context) error {
	return a.Manager.Start(ctx)
}
