package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonTicksAtLeastTwice(t *testing.T) {
	var calls atomic.Int64
	d := New("test", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	d.Start(5*time.Millisecond, true)
	defer d.Stop(true)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestDaemonSurvivesCallableError(t *testing.T) {
	var calls atomic.Int64
	d := New("test", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	})
	d.Start(5*time.Millisecond, true)
	defer d.Stop(true)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestDaemonSurvivesCallablePanic(t *testing.T) {
	var calls atomic.Int64
	d := New("test", func(ctx context.Context) error {
		calls.Add(1)
		panic("boom")
	})
	d.Start(5*time.Millisecond, true)
	defer d.Stop(true)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestDaemonStatusReflectsLifecycle(t *testing.T) {
	d := New("test", func(ctx context.Context) error { return nil })

	active, running := d.Status()
	assert.False(t, active)
	assert.False(t, running)

	d.Start(5*time.Millisecond, true)
	require.Eventually(t, func() bool {
		active, running := d.Status()
		return active && running
	}, time.Second, 5*time.Millisecond)

	d.Stop(true)
	active, running = d.Status()
	assert.False(t, active)
	assert.False(t, running)
}

func TestDaemonStopBlocksUntilLoopExits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	d := New("test", func(ctx context.Context) error {
		select {
		case <-started:
		default:
			close(started)
		}
		<-release
		return nil
	})
	d.Start(time.Millisecond, true)

	<-started
	stopped := make(chan struct{})
	go func() {
		d.Stop(true)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop(true) returned before the in-flight tick finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-stopped
}

func TestDaemonStartIsIdempotent(t *testing.T) {
	var calls atomic.Int64
	d := New("test", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	d.Start(5*time.Millisecond, true)
	d.Start(5*time.Millisecond, true) // no-op: already active
	defer d.Stop(true)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}
