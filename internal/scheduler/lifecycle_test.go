package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartAndShutdownLeaveNoGoroutinesRunning(t *testing.T) {
	st := newTestStore(t)
	sched := newTestScheduler(t, st, newFakeUpstream())

	clock := newFakeClock(time.Now().UTC())
	sched.WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	clock.fire()
	time.Sleep(20 * time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		sched.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not shut down in time")
	}

	hb, err := st.GetHeartbeat(context.Background(), "test-worker")
	require.NoError(t, err)
	require.NotEmpty(t, hb.WorkerName)
}

func TestHeartbeatTickIsSkippedWhileAlreadyRunning(t *testing.T) {
	st := newTestStore(t)
	sched := newTestScheduler(t, st, newFakeUpstream())

	job := sched.jobs[3]
	require.Equal(t, "heartbeat", job.name)
	job.running.Store(true)

	clock := newFakeClock(time.Now().UTC())
	sched.WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	clock.fire()
	time.Sleep(20 * time.Millisecond)

	_, err := st.GetHeartbeat(context.Background(), "test-worker")
	require.Error(t, err)

	cancel()
	sched.Shutdown()
}
