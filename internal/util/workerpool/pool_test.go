package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutesSubmittedTasks(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 2, QueueSize: 8})
	defer p.Stop(time.Second)

	var done int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Task{
			ID: "t",
			Fn: func(context.Context) error {
				atomic.AddInt32(&done, 1)
				return nil
			},
		}))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&done) == 5
	}, time.Second, time.Millisecond)

	stats := p.Stats()
	assert.EqualValues(t, 5, stats.CompletedTasks)
}

func TestPoolRecordsFailedTask(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer p.Stop(time.Second)

	require.NoError(t, p.Submit(Task{
		ID: "fails",
		Fn: func(context.Context) error {
			return context.DeadlineExceeded
		},
	}))

	require.Eventually(t, func() bool {
		return p.Stats().FailedTasks == 1
	}, time.Second, time.Millisecond)
}

func TestPoolRecoversPanic(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer p.Stop(time.Second)

	require.NoError(t, p.Submit(Task{
		ID: "panics",
		Fn: func(context.Context) error {
			panic("boom")
		},
	}))

	require.Eventually(t, func() bool {
		return p.Stats().FailedTasks == 1
	}, time.Second, time.Millisecond)
}

func TestSubmitRejectsAfterStop(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	require.NoError(t, p.Stop(time.Second))

	err := p.Submit(Task{ID: "late", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestSubmitWithContextHonorsCancellation(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 0})
	defer p.Stop(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.SubmitWithContext(ctx, Task{ID: "t", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, context.Canceled)
}
