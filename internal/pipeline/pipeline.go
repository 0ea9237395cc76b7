package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"photobooth/internal/logging"
	"photobooth/internal/storage"
)

// JobType enumerates supported processing categories.
type JobType string

const (
	JobComposite JobType = "composite"
	JobStrip     JobType = "strip"
	JobAll       JobType = "all"
	JobBlend     JobType = "blend"
)

var (
	// ErrQueueFull is returned by Submit when no worker can take the job.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit once Stop has been called.
	ErrStopped = errors.New("pipeline stopped")
)

// Job represents a single processing request. InputPath is a session
// directory or a single image; Output is a file or directory depending on
// the job type.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	InputPath string         `json:"input_path,omitempty"`
	Output    string         `json:"output,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
	stopped   bool
}

// New creates a Pipeline running concurrency workers over the engine in deps.
func New(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, deps Deps) *Pipeline {
	return NewWithProcessor(ctx, concurrency, queueSize, logger, store, newRouter(logger, store, deps))
}

// NewWithProcessor is New with an explicit processor.
func NewWithProcessor(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = concurrency * 2
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, queueSize),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		if err := p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(optsJSON),
		}); err != nil {
			p.log.Warn("failed to record queued job", "id", job.ID, "error", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, "rejected", nil, ErrQueueFull.Error())
		}
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
		p.cancel()
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()

			logging.LogJobStart(p.log, string(job.Type), job.ID, getStringOption(job.Options, "template"), len(getStringsOption(job.Options, "photos")), job.Options)

			if p.store != nil {
				_ = p.store.RecordJobStart(job.ID)
			}
			res := p.processor.Process(ctx, job)
			duration := time.Since(start)

			status := "completed"
			if res.Error != nil {
				status = "failed"
				logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
					"input":   job.InputPath,
					"output":  job.Output,
					"options": job.Options,
				})
			} else {
				logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
			}
			if p.store != nil {
				_ = p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error))
			}

			p.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}

// Runner is the part of a Pipeline that callers queue work through.
type Runner interface {
	Submit(job Job) error
	Subscribe() (<-chan Result, func())
}

// SubmitAndWait queues job and blocks until its result is broadcast or ctx
// ends. A failed job returns its Result alongside the job error.
func SubmitAndWait(ctx context.Context, r Runner, job Job) (Result, error) {
	resCh, unsubscribe := r.Subscribe()
	defer unsubscribe()
	if err := r.Submit(job); err != nil {
		return Result{Job: job}, err
	}
	for {
		select {
		case <-ctx.Done():
			return Result{Job: job}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return Result{Job: job}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

// NewID returns a job id of the form <prefix>-<utc timestamp>-<nnnn>.
func NewID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
