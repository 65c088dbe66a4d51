package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tasks(n int) []Task {
	out := make([]Task, n)
	for i := range out {
		out[i] = Task{Input: fmt.Sprintf("in-%d", i), Output: fmt.Sprintf("out-%d", i)}
	}
	return out
}

// =============================================================================
// Run Tests
// =============================================================================

func TestProcessor_ResultsInInputOrder(t *testing.T) {
	job := func(ctx context.Context, task Task) (Stats, error) {
		var i int
		fmt.Sscanf(task.Input, "in-%d", &i)
		time.Sleep(time.Duration(10-i) * time.Millisecond)
		return Stats{Records: i, Pages: 1}, nil
	}

	res := NewProcessor(Config{Workers: 4}, job, nil).Run(context.Background(), tasks(10))

	require.Len(t, res.Files, 10)
	for i, f := range res.Files {
		assert.Equal(t, fmt.Sprintf("in-%d", i), f.Task.Input)
		assert.Equal(t, i, f.Stats.Records)
		assert.NoError(t, f.Err)
	}
	assert.Equal(t, 45, res.Totals.Records)
	assert.Equal(t, 10, res.Totals.Pages)
	assert.Equal(t, 10, res.Succeeded())
	assert.NoError(t, res.Err())
}

func TestProcessor_FailureIsolation(t *testing.T) {
	job := func(ctx context.Context, task Task) (Stats, error) {
		if task.Input == "in-1" {
			return Stats{}, errors.New("corrupt archive")
		}
		return Stats{Records: 5}, nil
	}

	res := NewProcessor(Config{Workers: 2}, job, nil).Run(context.Background(), tasks(3))

	assert.NoError(t, res.Files[0].Err)
	assert.Error(t, res.Files[1].Err)
	assert.NoError(t, res.Files[2].Err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 10, res.Totals.Records)

	err := res.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-1: corrupt archive")
}

func TestProcessor_RecoversPanics(t *testing.T) {
	job := func(ctx context.Context, task Task) (Stats, error) {
		if task.Input == "in-0" {
			panic("boom")
		}
		return Stats{Records: 1}, nil
	}

	res := NewProcessor(Config{}, job, nil).Run(context.Background(), tasks(2))

	require.Error(t, res.Files[0].Err)
	assert.Contains(t, res.Files[0].Err.Error(), "boom")
	assert.NoError(t, res.Files[1].Err)
}

func TestProcessor_BoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	job := func(ctx context.Context, task Task) (Stats, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return Stats{}, nil
	}

	NewProcessor(Config{Workers: 3}, job, nil).Run(context.Background(), tasks(12))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestProcessor_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	job := func(ctx context.Context, task Task) (Stats, error) {
		calls.Add(1)
		return Stats{}, ctx.Err()
	}

	res := NewProcessor(Config{Workers: 1}, job, nil).Run(ctx, tasks(5))
	require.Len(t, res.Files, 5)
	assert.Equal(t, 5, res.Failed)
	for _, f := range res.Files {
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
}

func TestProcessor_Progress(t *testing.T) {
	var mu sync.Mutex
	var seen []Progress
	cfg := Config{Workers: 2, Progress: func(p Progress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	}}
	job := func(ctx context.Context, task Task) (Stats, error) { return Stats{}, nil }

	NewProcessor(cfg, job, nil).Run(context.Background(), tasks(4))

	require.Len(t, seen, 4)
	var maxProcessed int64
	for _, p := range seen {
		assert.Equal(t, int64(4), p.Total)
		if p.Processed > maxProcessed {
			maxProcessed = p.Processed
		}
	}
	assert.Equal(t, int64(4), maxProcessed)
}

func TestProcessor_NoTasks(t *testing.T) {
	job := func(ctx context.Context, task Task) (Stats, error) { return Stats{}, nil }
	res := NewProcessor(Config{Workers: 4}, job, nil).Run(context.Background(), nil)
	assert.Empty(t, res.Files)
	assert.NoError(t, res.Err())
}
