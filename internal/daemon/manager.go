// Copyright (c) 2026 video-stats authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon wires the Store, upstream Client, Enricher, Scheduler and
// admin API Server into one process lifecycle: ordered startup, a single
// shutdown path driven by context cancellation, and LIFO cleanup hooks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tummerk/video-stats/internal/log"
)

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order (LIFO) so the last resource acquired is the
// first released.
type ShutdownHook func(ctx context.Context) error

// Manager owns the admin HTTP server and the background scheduler and
// coordinates their startup and shutdown.
type Manager interface {
	// Start starts the admin API server and the scheduler and blocks until
	// ctx is cancelled or the server fails.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the server and scheduler and runs every
	// registered shutdown hook in LIFO order.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a named cleanup function.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

// ServerConfig configures the admin HTTP server's listen address and
// timeouts.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns conservative HTTP server timeouts.
func DefaultServerConfig(listenAddr string) ServerConfig {
	return ServerConfig{
		ListenAddr:      listenAddr,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// scheduler is the narrow lifecycle the manager needs from
// internal/scheduler.Scheduler.
type scheduler interface {
	Start(ctx context.Context)
	Shutdown()
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	serverCfg ServerConfig
	handler   http.Handler
	sched     scheduler

	httpServer *http.Server

	mu            sync.Mutex
	started       bool
	shutdownHooks []namedHook

	logger zerolog.Logger
}

// NewManager builds a Manager serving handler on serverCfg.ListenAddr and
// driving sched's Start/Shutdown lifecycle alongside it.
func NewManager(serverCfg ServerConfig, handler http.Handler, sched scheduler) Manager {
	return &manager{
		serverCfg: serverCfg,
		handler:   handler,
		sched:     sched,
		logger:    log.WithComponent("daemon"),
	}
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().Str("listen", m.serverCfg.ListenAddr).Msg("starting daemon")

	m.httpServer = &http.Server{
		Addr:         m.serverCfg.ListenAddr,
		Handler:      m.handler,
		ReadTimeout:  m.serverCfg.ReadTimeout,
		WriteTimeout: m.serverCfg.WriteTimeout,
		IdleTimeout:  m.serverCfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("admin server: %w", err)
		}
	}()

	m.sched.Start(ctx)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("admin server failed, shutting down")
		if shutdownErr := m.Shutdown(context.Background()); shutdownErr != nil {
			return fmt.Errorf("%w (shutdown: %v)", err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		return m.Shutdown(context.Background())
	}
}

func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrManagerNotStarted
	}

	m.logger.Info().Msg("shutting down daemon")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	m.sched.Shutdown()

	if m.httpServer != nil {
		if err := m.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}

	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		h := m.shutdownHooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
}
