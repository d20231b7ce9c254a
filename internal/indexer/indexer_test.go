package indexer

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

	"github.com/standardbeagle/rindex/internal/depgraph"
	rerrors "github.com/standardbeagle/rindex/internal/errors"
	"github.com/standardbeagle/rindex/internal/store"
	"github.com/standardbeagle/rindex/internal/types"
)

// fakeParser scripts per-file outcomes: fail the first N calls, then succeed
// with a single declaration cursor.
type fakeParser struct {
	mu       sync.Mutex
	failures map[types.FileID]int
	calls    map[types.FileID]int
	block    chan struct{} // non-nil: Parse waits here or for ctx
	unreadable map[types.FileID]bool
}

func newFakeParser() *fakeParser {
	return &fakeParser{
		failures:   make(map[types.FileID]int),
		calls:      make(map[types.FileID]int),
		unreadable: make(map[types.FileID]bool),
	}
}

func (p *fakeParser) Parse(ctx context.Context, src types.Source) (*types.IndexData, error) {
	p.mu.Lock()
	p.calls[src.File]++
	call := p.calls[src.File]
	failures := p.failures[src.File]
	block := p.block
	unreadable := p.unreadable[src.File]
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if unreadable {
		return nil, rerrors.NewUnreadableSource(src.File, "gone.cpp", errors.New("no such file"))
	}
	if call <= failures {
		return nil, fmt.Errorf("scripted crash %d", call)
	}

	data := types.NewIndexData(src.File)
	loc := types.Location{File: src.File, Line: 1, Column: 5}
	ci := types.NewCursorInfo(types.CursorDeclaration, fmt.Sprintf("sym%d()", src.File), fmt.Sprintf("c:@F@sym%d#", src.File))
	ci.End = 4
	data.Symbols[loc] = ci
	return data, nil
}

func (p *fakeParser) callCount(file types.FileID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[file]
}

func src(file types.FileID) types.Source {
	return types.Source{File: file, Language: types.LanguageCPP}
}

type harness struct {
	parser *fakeParser
	store  *store.Store
	deps   *depgraph.Graph
	syncer *Syncer
	coord  *Coordinator
	synced chan struct{}
}

func newHarness(t *testing.T, opts CoordinatorOptions) *harness {
	t.Helper()
	h := &harness{
		parser: newFakeParser(),
		store:  store.New(),
		deps:   depgraph.New(),
		synced: make(chan struct{}, 64),
	}
	h.syncer = NewSyncer(h.store, h.deps, SyncerOptions{Debounce: 10 * time.Millisecond})
	h.syncer.SetOnSyncComplete(func() {
		select {
		case h.synced <- struct{}{}:
		default:
		}
	})
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	if opts.JobTimeout == 0 {
		opts.JobTimeout = time.Second
	}
	h.coord = NewCoordinator(h.parser, h.syncer, nil, opts)
	t.Cleanup(func() { h.coord.Shutdown(time.Second) })
	return h
}

// waitIdle waits until the coordinator has drained and a sync pass ran.
func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.coord.IsIndexing() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for coordinator to drain")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.syncer.Flush()
}

func TestIndexAndSync(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{})

	assert.True(t, h.coord.Index(src(1), types.IndexDirty))
	// Second request for a busy file never reports an idle-to-busy
	// transition.
	h.coord.Index(src(1), types.IndexDirty)

	h.waitIdle(t)

	assert.True(t, h.store.IsIndexed(1))
	locs := h.store.Find("sym1()")
	require.Len(t, locs, 1)
	assert.Equal(t, types.FileID(1), locs[0].File)
}

func TestManyFilesWithFewWorkers(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{Workers: 2})

	for i := types.FileID(1); i <= 20; i++ {
		assert.True(t, h.coord.Index(src(i), types.IndexDirty))
	}
	h.waitIdle(t)

	for i := types.FileID(1); i <= 20; i++ {
		assert.True(t, h.store.IsIndexed(i), "file %d missing after drain", i)
	}
}

// Scenario: a job crashes twice then succeeds; the final store contains the
// file's symbols and the store stays untouched by the failed attempts.
func TestCrashRetryEventuallySucceeds(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{CrashRetries: 3})
	h.parser.failures[1] = 2

	h.coord.Index(src(1), types.IndexDirty)
	h.waitIdle(t)

	assert.Equal(t, 3, h.parser.callCount(1))
	assert.True(t, h.store.IsIndexed(1))
	assert.Len(t, h.store.Find("sym1()"), 1)
}

func TestCrashThresholdMarksFileFailing(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{CrashRetries: 3})
	h.parser.failures[1] = 100

	h.coord.Index(src(1), types.IndexDirty)
	h.waitIdle(t)

	// Three attempts, then the file is dropped with the store unchanged.
	assert.Equal(t, 3, h.parser.callCount(1))
	assert.False(t, h.store.IsIndexed(1))
	assert.Equal(t, 0, h.store.Size())

	// Further dirty requests for the failing file are dropped...
	assert.False(t, h.coord.Index(src(1), types.IndexDirty))
	// ...but an explicit reindex clears the mark.
	h.parser.failures[1] = 0
	assert.True(t, h.coord.Index(src(1), types.IndexReindex))
	h.waitIdle(t)
	assert.True(t, h.store.IsIndexed(1))
}

func TestTimeoutCountsAsCrash(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{Workers: 1, JobTimeout: 20 * time.Millisecond, CrashRetries: 2})
	h.parser.block = make(chan struct{}) // never closed: every attempt times out

	h.coord.Index(src(1), types.IndexDirty)
	h.waitIdle(t)

	assert.Equal(t, 2, h.parser.callCount(1))
	assert.False(t, h.store.IsIndexed(1))
}

func TestUnreadableSourceDroppedWithoutRetry(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{})
	h.parser.unreadable[1] = true

	h.coord.Index(src(1), types.IndexDirty)
	h.waitIdle(t)

	assert.Equal(t, 1, h.parser.callCount(1))
	assert.False(t, h.store.IsIndexed(1))
	// Not marked failing: the file may reappear.
	assert.True(t, h.coord.Index(src(1), types.IndexDirty))
}

// Scenario: requests for a suspended file never advance jobs nor mutate the
// store until un-suspended.
func TestSuspension(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{})

	assert.True(t, h.coord.ToggleSuspend(1))
	assert.True(t, h.coord.IsSuspended(1))

	assert.False(t, h.coord.Index(src(1), types.IndexDirty))
	assert.Equal(t, 0, h.coord.JobCount())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, h.store.Size())
	assert.Equal(t, 0, h.parser.callCount(1))

	assert.False(t, h.coord.ToggleSuspend(1), "second toggle should unsuspend")
	assert.True(t, h.coord.Index(src(1), types.IndexDirty))
	h.waitIdle(t)
	assert.True(t, h.store.IsIndexed(1))
}

func TestClearSuspended(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{})
	h.coord.ToggleSuspend(1)
	h.coord.ToggleSuspend(2)
	assert.Len(t, h.coord.SuspendedFiles(), 2)

	h.coord.ClearSuspended()
	assert.Empty(t, h.coord.SuspendedFiles())
}

// A request arriving while the file's job runs is coalesced into pending and
// started after the active job finishes.
func TestCoalescePendingRequest(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{Workers: 1, JobTimeout: 5 * time.Second})
	h.parser.block = make(chan struct{})

	require.True(t, h.coord.Index(src(1), types.IndexDirty))
	// Wait for the job to actually start.
	deadline := time.Now().Add(time.Second)
	for h.parser.callCount(1) == 0 {
		require.False(t, time.Now().After(deadline), "job never started")
		time.Sleep(2 * time.Millisecond)
	}

	// Three more requests while running collapse into one pending slot.
	assert.False(t, h.coord.Index(src(1), types.IndexDirty))
	assert.False(t, h.coord.Index(src(1), types.IndexReindex))
	assert.False(t, h.coord.Index(src(1), types.IndexDirty))

	close(h.parser.block)
	h.waitIdle(t)

	// The active run plus exactly one coalesced follow-up.
	assert.Equal(t, 2, h.parser.callCount(1))
	assert.True(t, h.store.IsIndexed(1))
}

func TestShutdownFlushesStagedResults(t *testing.T) {
	h := newHarness(t, CoordinatorOptions{})
	// Long debounce so only the shutdown flush can merge.
	h.syncer.debounce = time.Hour

	h.coord.Index(src(1), types.IndexDirty)
	deadline := time.Now().Add(5 * time.Second)
	for h.coord.IsIndexing() {
		require.False(t, time.Now().After(deadline))
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, h.store.IsIndexed(1), "store mutated before sync pass")

	h.coord.Shutdown(time.Second)
	assert.True(t, h.store.IsIndexed(1), "shutdown must flush staged results")
}

func TestSyncerDebounceBatchesJobs(t *testing.T) {
	st := store.New()
	deps := depgraph.New()
	var saves atomic.Int32
	syncer := NewSyncer(st, deps, SyncerOptions{
		Debounce:      20 * time.Millisecond,
		SaveThreshold: 2,
		OnSave:        func() error { saves.Add(1); return nil },
	})
	defer syncer.Shutdown()

	done := make(chan struct{}, 8)
	syncer.SetOnSyncComplete(func() { done <- struct{}{} })

	for i := types.FileID(1); i <= 3; i++ {
		data := types.NewIndexData(i)
		loc := types.Location{File: i, Line: 1, Column: 1}
		data.Symbols[loc] = types.NewCursorInfo(types.CursorDeclaration, fmt.Sprintf("s%d", i), fmt.Sprintf("u%d", i))
		data.Dependencies[types.FileID(100+i)] = true
		syncer.Enqueue(data)
	}
	assert.Equal(t, 3, syncer.PendingCount())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync pass never fired")
	}

	assert.Equal(t, 0, syncer.PendingCount())
	for i := types.FileID(1); i <= 3; i++ {
		assert.True(t, st.IsIndexed(i))
		assert.Equal(t, []types.FileID{100 + i}, deps.DependsOn(i))
	}
	// Threshold 2, three primary files synced in one pass: one save.
	assert.Equal(t, int32(1), saves.Load())
}

func TestSyncerSaveFailureRetries(t *testing.T) {
	st := store.New()
	var saves atomic.Int32
	syncer := NewSyncer(st, depgraph.New(), SyncerOptions{
		Debounce:      5 * time.Millisecond,
		SaveThreshold: 1,
		OnSave: func() error {
			if saves.Add(1) == 1 {
				return errors.New("disk full")
			}
			return nil
		},
	})
	defer syncer.Shutdown()

	data := types.NewIndexData(1)
	syncer.Enqueue(data)
	syncer.Flush()
	assert.Equal(t, int32(1), saves.Load())

	// The failed save left the counter in place; the next pass retries.
	syncer.Enqueue(types.NewIndexData(2))
	syncer.Flush()
	assert.Equal(t, int32(2), saves.Load())
}

func TestSyncerMergesFixIts(t *testing.T) {
	syncer := NewSyncer(store.New(), depgraph.New(), SyncerOptions{Debounce: time.Hour})
	defer syncer.Shutdown()

	data := types.NewIndexData(1)
	data.FixIts[1] = []types.FixIt{{Start: 10, End: 12, Text: ";"}}
	syncer.Enqueue(data)
	syncer.Flush()

	fixits := syncer.FixIts(1)
	require.Len(t, fixits, 1)
	assert.Equal(t, ";", fixits[0].Text)
	assert.Empty(t, syncer.FixIts(2))
}
