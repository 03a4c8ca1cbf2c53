package worker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestEnqueueFull(t *testing.T) {
	// Create a pool manually to avoid external dependencies
	cfg := PoolConfig{
		QueueSize: 1,
		Logger:    zap.NewNop(),
	}

	pool := &Pool{
		config:   cfg,
		jobQueue: make(chan Job, cfg.QueueSize),
		logger:   cfg.Logger.Sugar(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.ctx = ctx
	pool.cancel = cancel
	defer cancel()

	if !pool.Enqueue(Job{PlayerID: "p1", Score: 0.3}) {
		t.Fatal("Failed to enqueue first result")
	}

	// Second result should be shed immediately, not block
	start := time.Now()
	enqueued := pool.Enqueue(Job{PlayerID: "p2", Score: 0.4})
	duration := time.Since(start)

	if enqueued {
		t.Error("Enqueue should have returned false when queue is full")
	}
	if duration > 10*time.Millisecond {
		t.Errorf("Enqueue took too long (%v), expected immediate return", duration)
	}

	if pool.QueueDepth() != 1 {
		t.Errorf("QueueDepth = %d, want 1", pool.QueueDepth())
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	pool := NewPool(PoolConfig{
		WorkerCount:   1,
		QueueSize:     4,
		BatchSize:     2,
		FlushInterval: 10 * time.Millisecond,
		Logger:        zap.NewNop(),
	})

	pool.Start(context.Background())
	pool.Stop()

	// Enqueue on a stopped pool must not panic
	if pool.Enqueue(Job{PlayerID: "p1", Score: 0.9}) {
		t.Error("Enqueue returned true after Stop")
	}
}

func TestStopFlushesWithoutBackends(t *testing.T) {
	// With no storage backends configured, batches are no-ops but the
	// worker loop and shutdown path still run end to end.
	pool := NewPool(PoolConfig{
		WorkerCount:   2,
		QueueSize:     16,
		BatchSize:     4,
		FlushInterval: 5 * time.Millisecond,
		Logger:        zap.NewNop(),
	})

	pool.Start(context.Background())

	for i := 0; i < 10; i++ {
		pool.Enqueue(Job{PlayerID: "p1", Score: 0.5, Flags: []string{"HighAccuracy"}})
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not complete")
	}

	if pool.QueueDepth() != 0 {
		t.Errorf("queue not drained, depth = %d", pool.QueueDepth())
	}
}

func TestStopDrainsQueue(t *testing.T) {
	// A flush interval far beyond the test horizon forces the drain to go
	// through the closed-channel path alone.
	pool := NewPool(PoolConfig{
		WorkerCount:   4,
		QueueSize:     64,
		BatchSize:     8,
		FlushInterval: time.Hour,
		Logger:        zap.NewNop(),
	})
	pool.Start(context.Background())

	before := testutil.ToFloat64(resultsPersisted)

	const n = 50
	for i := 0; i < n; i++ {
		if !pool.Enqueue(Job{PlayerID: "p1", Score: 0.9, Flags: []string{"HighAccuracy"}}) {
			t.Fatalf("Enqueue %d failed", i)
		}
	}

	pool.Stop()

	if got := testutil.ToFloat64(resultsPersisted) - before; got != n {
		t.Errorf("persisted %v results across Stop, want %d", got, n)
	}
	if pool.QueueDepth() != 0 {
		t.Errorf("queue not drained, depth = %d", pool.QueueDepth())
	}
}

func TestNewPoolDefaults(t *testing.T) {
	pool := NewPool(PoolConfig{Logger: zap.NewNop()})

	if pool.config.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", pool.config.WorkerCount)
	}
	if pool.config.QueueSize != 10000 {
		t.Errorf("QueueSize = %d, want 10000", pool.config.QueueSize)
	}
	if pool.config.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", pool.config.BatchSize)
	}
	if pool.config.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", pool.config.FlushInterval)
	}
	if pool.config.SuspectScoreThreshold != 0.80 {
		t.Errorf("SuspectScoreThreshold = %v, want 0.80", pool.config.SuspectScoreThreshold)
	}
}
