// Package indexer drives parse jobs and merges their results into the live
// index. The coordinator owns the scheduling state (pending queue, in-flight
// jobs, suspended files); the syncer owns the debounced merge into the store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/rindex/internal/debug"
	rerrors "github.com/standardbeagle/rindex/internal/errors"
	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/types"
)

// Parser is the external front-end contract: it turns one compilation unit
// into a result bundle. Implementations must honor ctx cancellation.
type Parser interface {
	Parse(ctx context.Context, src types.Source) (*types.IndexData, error)
}

// jobData tracks one file's scheduling state. At most one job per file runs
// at a time; a request arriving while a job runs is held in pending and
// started when the active job finishes, newest request winning.
type jobData struct {
	id         types.JobID
	source     types.Source
	indexType  types.IndexType
	pending    *pendingRequest
	crashCount int
	running    bool
	cancel     context.CancelFunc
}

type pendingRequest struct {
	source    types.Source
	indexType types.IndexType
}

// Coordinator schedules parse jobs over N worker slots. Its state is
// mutex-confined; workers report back through the finish/crash paths.
type Coordinator struct {
	parser Parser
	syncer *Syncer
	table  *location.Table

	workers      int
	jobTimeout   time.Duration
	crashRetries int

	// slots bounds concurrent parse jobs; a job holds one unit from start to
	// release.
	slots *semaphore.Weighted

	mu        sync.Mutex
	jobs      map[types.FileID]*jobData
	queue     []types.FileID
	suspended map[types.FileID]bool
	failing   map[types.FileID]bool
	nextJobID types.JobID
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CoordinatorOptions tunes the coordinator; zero values take the defaults.
type CoordinatorOptions struct {
	Workers      int
	JobTimeout   time.Duration
	CrashRetries int
}

// NewCoordinator creates a coordinator feeding results into syncer.
func NewCoordinator(parser Parser, syncer *Syncer, table *location.Table, opts CoordinatorOptions) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = types.DefaultJobTimeout
	}
	if opts.CrashRetries <= 0 {
		opts.CrashRetries = types.DefaultCrashRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		parser:       parser,
		syncer:       syncer,
		table:        table,
		workers:      opts.Workers,
		jobTimeout:   opts.JobTimeout,
		crashRetries: opts.CrashRetries,
		slots:        semaphore.NewWeighted(int64(opts.Workers)),
		jobs:         make(map[types.FileID]*jobData),
		suspended:    make(map[types.FileID]bool),
		failing:      make(map[types.FileID]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Index enqueues a parse request. Requests for suspended files, and
// non-Reindex requests for repeatedly failing files, are dropped silently; a
// Reindex request clears the failing mark. A request for a file with a running
// job replaces that job's pending follow-up, so the newest request is the
// one that runs next. Returns true iff this call took the file from idle to
// busy.
func (c *Coordinator) Index(src types.Source, indexType types.IndexType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || src.IsNull() {
		return false
	}
	if c.suspended[src.File] {
		debug.LogIndexing("dropping request for suspended file %d\n", src.File)
		return false
	}
	if c.failing[src.File] {
		if indexType != types.IndexReindex {
			debug.LogIndexing("dropping request for repeatedly failing file %d\n", src.File)
			return false
		}
		// An explicit reindex clears the failure mark.
		delete(c.failing, src.File)
	}

	if jd, ok := c.jobs[src.File]; ok {
		if jd.running {
			jd.pending = &pendingRequest{source: src, indexType: indexType}
		} else {
			// Still queued; the newest request simply wins.
			jd.source = src
			jd.indexType = indexType
		}
		return false
	}

	jd := &jobData{source: src, indexType: indexType}
	c.jobs[src.File] = jd
	if c.slots.TryAcquire(1) {
		c.startLocked(jd)
	} else {
		c.queue = append(c.queue, src.File)
	}
	return true
}

// startLocked launches jd's job. Caller holds the lock and has acquired a
// worker slot.
func (c *Coordinator) startLocked(jd *jobData) {
	c.nextJobID++
	jd.id = c.nextJobID
	jd.running = true

	jctx, cancel := context.WithTimeout(c.ctx, c.jobTimeout)
	jd.cancel = cancel

	debug.LogIndexing("starting job %d for file %d (%s)\n", jd.id, jd.source.File, jd.indexType)

	c.wg.Add(1)
	go c.run(jctx, jd.id, jd.source, jd.indexType)
}

// run executes one parse job and routes the outcome. Parser panics are
// contained here; they count as crashes, never as engine failures.
func (c *Coordinator) run(ctx context.Context, id types.JobID, src types.Source, indexType types.IndexType) {
	defer c.wg.Done()

	data, err := c.safeParse(ctx, src)

	switch {
	case err == nil:
		c.onJobFinished(id, src, data)
	case errors.Is(err, context.DeadlineExceeded):
		c.onJobCrashed(id, src, indexType,
			rerrors.NewJobTimeout(src.File, c.path(src.File), id))
	case isUnreadable(err):
		c.onJobDropped(id, src, err)
	case errors.Is(err, context.Canceled):
		c.onJobDropped(id, src, err)
	default:
		c.onJobCrashed(id, src, indexType,
			rerrors.NewJobCrashed(src.File, c.path(src.File), id, err))
	}
}

func (c *Coordinator) safeParse(ctx context.Context, src types.Source) (data *types.IndexData, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	data, err = c.parser.Parse(ctx, src)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return data, err
}

// onJobFinished stages the result for sync, then releases the slot and
// starts the file's pending follow-up, if any.
func (c *Coordinator) onJobFinished(id types.JobID, src types.Source, data *types.IndexData) {
	c.syncer.Enqueue(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	jd := c.releaseLocked(id, src.File)
	if jd == nil {
		return
	}
	jd.crashCount = 0
	if jd.pending != nil {
		jd.source = jd.pending.source
		jd.indexType = jd.pending.indexType
		jd.pending = nil
		c.scheduleLocked(jd, src.File)
	} else {
		delete(c.jobs, src.File)
	}
	c.startQueuedLocked()
}

// onJobCrashed retries the same source until the crash threshold, then marks
// the file repeatedly failing and drops it. No results were synced, so the
// store is exactly as before the job started.
func (c *Coordinator) onJobCrashed(id types.JobID, src types.Source, indexType types.IndexType, jobErr *rerrors.JobError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	jd := c.releaseLocked(id, src.File)
	if jd == nil {
		return
	}
	jd.crashCount++
	debug.LogIndexing("job %d for file %d failed (%d/%d): %v\n",
		id, src.File, jd.crashCount, c.crashRetries, jobErr)

	if jd.crashCount < c.crashRetries {
		jd.source = src
		jd.indexType = indexType
		c.scheduleLocked(jd, src.File)
	} else {
		log.Printf("file %s is repeatedly failing, skipping for this session: %v",
			c.path(src.File), jobErr.WithCrashCount(jd.crashCount))
		c.failing[src.File] = true
		delete(c.jobs, src.File)
	}
	c.startQueuedLocked()
}

// onJobDropped discards a job without retry: the source disappeared, or the
// engine is shutting down.
func (c *Coordinator) onJobDropped(id types.JobID, src types.Source, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if jd := c.releaseLocked(id, src.File); jd != nil {
		debug.LogIndexing("dropping job %d for file %d: %v\n", id, src.File, err)
		delete(c.jobs, src.File)
	}
	c.startQueuedLocked()
}

// releaseLocked frees the worker slot for a completed job and returns its
// jobData, or nil when the job is stale (the file was cleared while the
// worker ran).
func (c *Coordinator) releaseLocked(id types.JobID, file types.FileID) *jobData {
	jd, ok := c.jobs[file]
	if !ok || jd.id != id || !jd.running {
		return nil
	}
	jd.running = false
	jd.cancel()
	c.slots.Release(1)
	return jd
}

// scheduleLocked restarts jd immediately when a slot is free, otherwise
// re-queues it.
func (c *Coordinator) scheduleLocked(jd *jobData, file types.FileID) {
	if c.closed {
		delete(c.jobs, file)
		return
	}
	if c.slots.TryAcquire(1) {
		c.startLocked(jd)
	} else {
		c.queue = append(c.queue, file)
	}
}

// startQueuedLocked fills free worker slots from the FIFO queue, skipping
// entries that were suspended or cleared while queued.
func (c *Coordinator) startQueuedLocked() {
	for len(c.queue) > 0 {
		if !c.slots.TryAcquire(1) {
			return
		}
		file := c.queue[0]
		c.queue = c.queue[1:]
		jd, ok := c.jobs[file]
		if !ok || jd.running {
			c.slots.Release(1)
			continue
		}
		if c.suspended[file] {
			delete(c.jobs, file)
			c.slots.Release(1)
			continue
		}
		c.startLocked(jd)
	}
}

// IsIndexing reports whether any job is running or queued.
func (c *Coordinator) IsIndexing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs) > 0
}

// JobCount returns the number of tracked files (running plus queued).
func (c *Coordinator) JobCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// ToggleSuspend flips a file's suspension and returns the new state. While
// suspended, incoming requests for the file are dropped and queued entries
// are skipped.
func (c *Coordinator) ToggleSuspend(file types.FileID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended[file] {
		delete(c.suspended, file)
		return false
	}
	c.suspended[file] = true
	return true
}

// IsSuspended reports whether the file is suspended.
func (c *Coordinator) IsSuspended(file types.FileID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended[file]
}

// ClearSuspended un-suspends every file.
func (c *Coordinator) ClearSuspended() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = make(map[types.FileID]bool)
}

// SuspendedFiles returns the currently suspended files.
func (c *Coordinator) SuspendedFiles() []types.FileID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.FileID, 0, len(c.suspended))
	for file := range c.suspended {
		out = append(out, file)
	}
	return out
}

// Shutdown stops accepting requests, waits for in-flight jobs up to grace,
// aborts whatever is still running, and flushes staged results into the
// store. Unfinished job results are discarded.
func (c *Coordinator) Shutdown(grace time.Duration) {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	for file, jd := range c.jobs {
		if !jd.running {
			delete(c.jobs, file)
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		debug.LogIndexing("shutdown grace expired, aborting in-flight jobs\n")
	}

	c.cancel()
	c.wg.Wait()
	c.syncer.Flush()
	c.syncer.Shutdown()
}

func (c *Coordinator) path(file types.FileID) string {
	if c.table == nil {
		return fmt.Sprintf("file %d", file)
	}
	return c.table.Lookup(file)
}

func isUnreadable(err error) bool {
	var srcErr *rerrors.SourceError
	return errors.As(err, &srcErr)
}
