// Package batch runs one independent job per input file on a bounded worker
// pool. Every file is its own failure domain: a failing or panicking job is
// recorded against its file and the remaining files still run.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// =============================================================================
// Configuration
// =============================================================================

// DefaultWorkers is used when Config.Workers is not positive.
const DefaultWorkers = 1

// Config configures a Processor.
type Config struct {
	// Workers is the number of files processed concurrently (default: 1)
	Workers int

	// Progress, if set, is called after every finished file. It runs on
	// worker goroutines.
	Progress ProgressFunc
}

// ProgressFunc receives the running totals after each file.
type ProgressFunc func(p Progress)

// Progress reports batch totals so far.
type Progress struct {
	Total     int64
	Processed int64
	Failed    int64
	Current   string
}

// =============================================================================
// Task and Result Types
// =============================================================================

// Task is one unit of work: read Input, write Output.
type Task struct {
	Input  string
	Output string
}

// Stats are the counters a job reports for its file.
type Stats struct {
	Pages          int
	Records        int
	VocabularyGaps int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Pages += o.Pages
	s.Records += o.Records
	s.VocabularyGaps += o.VocabularyGaps
}

// Job processes one task.
type Job func(ctx context.Context, task Task) (Stats, error)

// FileResult is the outcome of one task.
type FileResult struct {
	Task     Task
	Stats    Stats
	Err      error
	Duration time.Duration
}

// Result holds every task outcome in input order.
type Result struct {
	Files    []FileResult
	Totals   Stats
	Failed   int
	Duration time.Duration
}

// Succeeded returns the number of files without error.
func (r *Result) Succeeded() int {
	return len(r.Files) - r.Failed
}

// Err aggregates the per-file errors, or returns nil when every file
// succeeded. Each message names its input file.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, f := range r.Files {
		if f.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", f.Task.Input, f.Err))
		}
	}
	return merr.ErrorOrNil()
}

// =============================================================================
// Processor
// =============================================================================

// Processor fans tasks out over a worker pool.
type Processor struct {
	config Config
	job    Job
	logger *slog.Logger
}

// NewProcessor creates a processor that runs job for each task.
func NewProcessor(config Config, job Job, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{config: config, job: job, logger: logger}
}

// Run processes every task and returns per-file outcomes in input order.
// Tasks not started before ctx is cancelled fail with the context error.
func (p *Processor) Run(ctx context.Context, tasks []Task) *Result {
	start := time.Now()

	state := &runState{results: make([]FileResult, len(tasks))}
	state.total.Store(int64(len(tasks)))

	queue := make(chan int)
	p.startWorkers(ctx, queue, tasks, state)
	p.feed(ctx, queue, tasks, state)
	state.wg.Wait()

	return p.buildResult(state, start)
}

// runState is shared by the workers of one Run.
type runState struct {
	processed atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64

	results []FileResult
	wg      sync.WaitGroup
}

func (p *Processor) workerCount(tasks int) int {
	n := p.config.Workers
	if n <= 0 {
		n = DefaultWorkers
	}
	if n > tasks {
		n = tasks
	}
	return n
}

func (p *Processor) startWorkers(ctx context.Context, queue <-chan int, tasks []Task, state *runState) {
	for i := 0; i < p.workerCount(len(tasks)); i++ {
		state.wg.Add(1)
		go p.worker(ctx, queue, tasks, state)
	}
}

// feed hands out task indexes; tasks never handed out are marked cancelled.
func (p *Processor) feed(ctx context.Context, queue chan<- int, tasks []Task, state *runState) {
	defer close(queue)
	for i := range tasks {
		select {
		case <-ctx.Done():
			for j := i; j < len(tasks); j++ {
				state.results[j] = FileResult{Task: tasks[j], Err: ctx.Err()}
				state.failed.Add(1)
			}
			return
		case queue <- i:
		}
	}
}

func (p *Processor) worker(ctx context.Context, queue <-chan int, tasks []Task, state *runState) {
	defer state.wg.Done()
	for i := range queue {
		state.results[i] = p.runTask(ctx, tasks[i])
		p.record(state, state.results[i])
	}
}

func (p *Processor) runTask(ctx context.Context, task Task) (res FileResult) {
	start := time.Now()
	res.Task = task

	defer func() {
		if r := recover(); r != nil {
			res.Err = rcerrors.Errorf(rcerrors.KindUnknown, "process", task.Input, "panic: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	p.logger.Info("processing file", "input", task.Input, "output", task.Output)
	res.Stats, res.Err = p.job(ctx, task)
	return res
}

func (p *Processor) record(state *runState, res FileResult) {
	processed := state.processed.Add(1)
	if res.Err != nil {
		state.failed.Add(1)
		p.logger.Error("file failed", "input", res.Task.Input, "error", res.Err, "duration", res.Duration)
	} else {
		p.logger.Info("file done",
			"input", res.Task.Input,
			"records", res.Stats.Records,
			"pages", res.Stats.Pages,
			"vocabulary_gaps", res.Stats.VocabularyGaps,
			"duration", res.Duration,
		)
	}

	if p.config.Progress != nil {
		p.config.Progress(Progress{
			Total:     state.total.Load(),
			Processed: processed,
			Failed:    state.failed.Load(),
			Current:   res.Task.Input,
		})
	}
}

func (p *Processor) buildResult(state *runState, start time.Time) *Result {
	res := &Result{Files: state.results, Duration: time.Since(start)}
	for _, f := range res.Files {
		if f.Err != nil {
			res.Failed++
			continue
		}
		res.Totals.Add(f.Stats)
	}
	return res
}
