package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	started chan struct{}
	stopped chan struct{}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{started: make(chan struct{}, 1), stopped: make(chan struct{}, 1)}
}

func (f *fakeScheduler) Start(ctx context.Context) { f.started <- struct{}{} }
func (f *fakeScheduler) Shutdown()                 { f.stopped <- struct{}{} }

func freeListenAddr(t *testing.T) string {
	t.Helper()
	l := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := l.Listener.Addr().String()
	l.Close()
	return addr
}

func TestManagerStartAndShutdownRunHooksInLIFOOrder(t *testing.T) {
	sched := newFakeScheduler()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	serverCfg := DefaultServerConfig(freeListenAddr(t))
	serverCfg.ShutdownTimeout = 2 * time.Second
	mgr := NewManager(serverCfg, handler, sched)

	var order []string
	mgr.RegisterShutdownHook("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	mgr.RegisterShutdownHook("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()

	select {
	case <-sched.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never started")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not shut down in time")
	}

	select {
	case <-sched.stopped:
	default:
		t.Fatal("scheduler was not shut down")
	}

	require.Equal(t, []string{"second", "first"}, order)
}

func TestManagerStartTwiceReturnsError(t *testing.T) {
	sched := newFakeScheduler()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mgr := NewManager(DefaultServerConfig(freeListenAddr(t)), handler, sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mgr.Start(ctx) }()

	select {
	case <-sched.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never started")
	}

	assert.ErrorIs(t, mgr.Start(context.Background()), ErrManagerAlreadyStarted)
}

func TestManagerShutdownBeforeStartReturnsError(t *testing.T) {
	sched := newFakeScheduler()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mgr := NewManager(DefaultServerConfig(freeListenAddr(t)), handler, sched)

	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}
