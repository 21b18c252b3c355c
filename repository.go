package togglekit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Repository owns the authoritative in-memory toggle snapshot and its
// synchronization with the remote service. Custom implementations can be
// injected via WithRepository; they receive the client's emit seam at
// construction and publish lifecycle signals through it.
type Repository interface {
	// Toggle returns the named toggle from the current snapshot, or nil
	// when absent. It never blocks and never touches the network.
	Toggle(name string) *Toggle

	// Toggles enumerates the current snapshot in server-supplied order.
	Toggles() []Toggle

	// Ready reports whether a snapshot (from backup or network) is
	// available for querying.
	Ready() bool

	// Start launches the synchronization loop. It must not block.
	Start(ctx context.Context)

	// Stop cancels pending polls and timers. Idempotent; Toggle remains
	// readable afterwards, serving the last known snapshot.
	Stop()
}

// defaultRepository polls the remote service on a fixed interval, keeps the
// snapshot behind a copy-on-write swap and writes through to the backup
// store on every change. A failed refresh keeps the previous snapshot —
// the cache is never blanked on error.
type defaultRepository struct {
	fetcher  featureFetcher
	backup   BackupStore
	emit     emitFunc
	log      *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	byName  map[string]*Toggle
	ordered []Toggle
	etag    string

	loadErr   error
	hasState  atomic.Bool
	readySent atomic.Bool
	inflight  atomic.Bool
	stopped   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func newDefaultRepository(fetcher featureFetcher, backup BackupStore, emit emitFunc, log *slog.Logger, interval time.Duration) *defaultRepository {
	r := &defaultRepository{
		fetcher:  fetcher,
		backup:   backup,
		emit:     emit,
		log:      log,
		interval: interval,
		byName:   make(map[string]*Toggle),
		done:     make(chan struct{}),
	}

	// Restore the last synced snapshot before any network traffic so a
	// previously-synced application can query immediately. Load failures
	// are held until Start, when subscribers are attached.
	toggles, err := backup.Load()
	switch {
	case err != nil:
		r.loadErr = err
	case toggles != nil:
		r.swap(toggles, "", false)
	}
	return r
}

func (r *defaultRepository) Toggle(name string) *Toggle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

func (r *defaultRepository) Toggles() []Toggle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneToggles(r.ordered)
}

func (r *defaultRepository) Ready() bool {
	return r.hasState.Load()
}

// Start emits any deferred construction-time signals, then launches the
// poll loop. A zero refresh interval performs a single best-effort poll
// with no repeating timer.
func (r *defaultRepository) Start(ctx context.Context) {
	if r.stopped.Load() {
		return
	}

	if r.loadErr != nil {
		r.emit(Event{Kind: EventError, Err: r.loadErr, Message: "backup restore failed"})
	}
	if r.hasState.Load() {
		r.markReady()
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	// A Stop racing the fast check above must win, and a second Start must
	// not spawn a second loop.
	if r.stopped.Load() || r.cancel != nil {
		r.mu.Unlock()
		cancel()
		return
	}
	r.cancel = cancel
	r.mu.Unlock()
	go r.loop(ctx)
}

func (r *defaultRepository) Stop() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	// cancel is only ever set before the loop is spawned, so a nil cancel
	// means no loop will ever run and there is nothing to wait for.
	if cancel != nil {
		cancel()
		<-r.done
	}
}

func (r *defaultRepository) loop(ctx context.Context) {
	defer close(r.done)

	r.poll(ctx)
	if r.interval <= 0 {
		r.log.Debug("refresh interval is zero, polling once and stopping")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll performs one conditional fetch. At most one poll is in flight at a
// time: a tick arriving while a poll is outstanding is skipped, not queued,
// bounding outbound requests under slow-network conditions.
func (r *defaultRepository) poll(ctx context.Context) {
	if !r.inflight.CompareAndSwap(false, true) {
		return
	}
	defer r.inflight.Store(false)

	resp, etag, err := r.fetcher.fetchFeatures(ctx, r.currentETag())
	if err != nil {
		if errors.Is(err, errNotModified) {
			r.emit(Event{Kind: EventUnchanged})
			return
		}
		if ctx.Err() != nil {
			// Stopped mid-flight; drop the result silently.
			return
		}
		r.log.Warn("feature poll failed, keeping stale snapshot", slog.Any("error", err))
		r.emit(Event{Kind: EventError, Err: err})
		return
	}

	r.swap(resp.Features, etag, true)
	r.emit(Event{Kind: EventChanged})
	r.markReady()
}

// swap replaces the snapshot wholesale. Readers holding the previous maps
// are unaffected; new readers see the fully-formed replacement.
func (r *defaultRepository) swap(toggles []Toggle, etag string, persist bool) {
	ordered := cloneToggles(toggles)
	byName := make(map[string]*Toggle, len(ordered))
	for i := range ordered {
		byName[ordered[i].Name] = &ordered[i]
	}

	r.mu.Lock()
	r.byName = byName
	r.ordered = ordered
	r.etag = etag
	r.mu.Unlock()
	r.hasState.Store(true)

	if persist {
		if err := r.backup.Save(toggles); err != nil {
			r.log.Warn("backup write failed", slog.Any("error", err))
			r.emit(Event{Kind: EventError, Err: err, Message: "backup write failed"})
		}
	}
}

func (r *defaultRepository) currentETag() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.etag
}

func (r *defaultRepository) markReady() {
	if r.readySent.CompareAndSwap(false, true) {
		r.emit(Event{Kind: EventReady})
	}
}
