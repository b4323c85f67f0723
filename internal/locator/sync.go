package locator

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"synapse/internal/ratelog"
)

const maxBootstrapBackoff = 30 * time.Second

// syncer keeps the mapping store in step with the control plane. It is the
// only writer of the store: periodic polls, backup restores and on-demand
// refreshes all run on its goroutine.
type syncer struct {
	mode   Mode
	store  *mappingStore
	cp     *controlPlaneClient
	backup BackupStore

	pollInterval     time.Duration
	flushInterval    time.Duration
	bootstrapBackoff time.Duration

	state     atomic.Int32
	ready     atomic.Bool
	watermark atomic.Int64

	// only touched by the run goroutine
	lastFlushedGen uint64

	refreshCh chan refreshRequest

	pollLog  *ratelog.Logger
	flushLog *ratelog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

func newSyncer(cfg Config, store *mappingStore, cp *controlPlaneClient, backup BackupStore) *syncer {
	s := &syncer{
		mode:             cfg.Mode,
		store:            store,
		cp:               cp,
		backup:           backup,
		pollInterval:     cfg.ControlPlane.pollIntervalDur,
		flushInterval:    cfg.BackupRouteStore.flushIntervalDur,
		bootstrapBackoff: cfg.ControlPlane.bootstrapBackoffDur,
		refreshCh:        make(chan refreshRequest),
		pollLog:          ratelog.New(time.Minute),
		flushLog:         ratelog.New(time.Minute),
		now:              time.Now,
		sleep:            sleepCtx,
	}
	s.setState(StateBootstrapping)
	return s
}

func (s *syncer) State() State { return State(s.state.Load()) }

func (s *syncer) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	recordState(s.mode, st)
	if prev != st {
		log.Printf("locator: sync state %s -> %s (mode=%s)", prev, st, s.mode)
	}
}

func (s *syncer) run(ctx context.Context) {
	if !s.start(ctx) {
		return
	}
	s.loop(ctx)
}

// start brings the store to a usable state: a full bootstrap from the
// control plane, or a backup snapshot when the control plane is down. It
// only returns false when ctx is cancelled.
func (s *syncer) start(ctx context.Context) bool {
	backoff := s.bootstrapBackoff
	for {
		err := s.bootstrap(ctx)
		if err == nil {
			s.ready.Store(true)
			s.setState(StateSynced)
			s.flush(ctx)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Printf("locator: bootstrap failed: %v", err)
		s.setState(StateDegraded)

		if s.restore(ctx) {
			s.ready.Store(true)
			s.setState(StateSynced)
			return true
		}

		log.Printf("locator: retrying bootstrap in %s", backoff)
		if err := s.sleep(ctx, backoff); err != nil {
			return false
		}
		backoff *= 2
		if backoff > maxBootstrapBackoff {
			backoff = maxBootstrapBackoff
		}
	}
}

// bootstrap pages through the full mapping. Every page is merged as soon
// as it arrives.
func (s *syncer) bootstrap(ctx context.Context) error {
	started := s.now().Unix()
	var (
		cursor     *Cursor
		watermark  int64
		pages      int
		rowsLoaded int
	)
	for {
		page, err := s.cp.FetchPage(ctx, cursor)
		syncRequestsTotal.WithLabelValues("bootstrap", resultLabel(err)).Inc()
		if err != nil {
			return fmt.Errorf("page %d: %w", pages+1, err)
		}
		pages++
		rowsLoaded += len(page.Rows)

		if m := s.store.Apply(page.Rows, page.Localities); m > watermark {
			watermark = m
		}
		if page.Next.UpdatedAt > watermark {
			watermark = page.Next.UpdatedAt
		}
		mappingsTotal.WithLabelValues(string(s.mode)).Set(float64(s.store.Len()))

		if page.Next.IsSentinel() || !page.HasMore {
			break
		}
		if cursor != nil && cursor.Equal(page.Next) {
			return fmt.Errorf("%w: cursor did not advance past %s", ErrMalformedResponse, page.Next)
		}
		next := page.Next
		cursor = &next
	}

	if watermark == 0 {
		watermark = started
	}
	s.setWatermark(watermark)
	log.Printf("locator: bootstrap complete: pages=%d rows=%d mappings=%d watermark=%d",
		pages, rowsLoaded, s.store.Len(), watermark)
	return nil
}

// restore loads the latest backup snapshot into the store.
func (s *syncer) restore(ctx context.Context) bool {
	snap, ok, err := s.backup.Load(ctx)
	switch {
	case err != nil:
		backupOperationsTotal.WithLabelValues("load", "error").Inc()
		log.Printf("locator: loading backup routes: %v", err)
		return false
	case !ok:
		backupOperationsTotal.WithLabelValues("load", "empty").Inc()
		log.Printf("locator: no backup routes available")
		return false
	}
	backupOperationsTotal.WithLabelValues("load", "ok").Inc()

	s.store.Replace(snap)
	s.setWatermark(snap.Watermark)
	// the snapshot is already durable; no need to write it straight back
	s.lastFlushedGen = s.store.Generation()
	mappingsTotal.WithLabelValues(string(s.mode)).Set(float64(s.store.Len()))
	log.Printf("locator: restored %d mappings from backup, watermark=%d", len(snap.Routes), snap.Watermark)
	return true
}

func (s *syncer) loop(ctx context.Context) {
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	flush := time.NewTicker(s.flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.flush(shutdownCtx)
			cancel()
			return
		case <-poll.C:
			_ = s.poll(ctx, "incremental", true)
		case <-flush.C:
			s.flush(ctx)
		case req := <-s.refreshCh:
			req.done <- s.poll(req.ctx, "refresh", false)
		}
	}
}

// poll fetches rows updated after the watermark and merges them.
func (s *syncer) poll(ctx context.Context, kind string, retry bool) error {
	after := s.watermark.Load()
	rows, err := s.cp.FetchSince(ctx, after, retry)
	syncRequestsTotal.WithLabelValues(kind, resultLabel(err)).Inc()
	if err != nil {
		s.pollLog.Printf("locator: %s sync failed: after=%d err=%v", kind, after, err)
		return err
	}
	s.pollLog.Reset()

	if m := s.store.Apply(rows, nil); m > after {
		s.setWatermark(m)
	}
	if len(rows) > 0 {
		mappingsTotal.WithLabelValues(string(s.mode)).Set(float64(s.store.Len()))
	}
	return nil
}

// flush writes the store to the backup store if it changed since the last
// successful flush.
func (s *syncer) flush(ctx context.Context) {
	gen := s.store.Generation()
	if gen == s.lastFlushedGen {
		return
	}
	snap := s.store.Snapshot(s.watermark.Load())
	if err := s.backup.Save(ctx, snap); err != nil {
		backupOperationsTotal.WithLabelValues("save", "error").Inc()
		s.flushLog.Printf("locator: flushing backup routes failed: %v", err)
		return
	}
	backupOperationsTotal.WithLabelValues("save", "ok").Inc()
	s.flushLog.Reset()
	s.lastFlushedGen = gen
}

// requestRefresh asks the run goroutine for an out-of-band incremental
// poll and waits for it, bounded by ctx.
func (s *syncer) requestRefresh(ctx context.Context) error {
	if s.State() != StateSynced {
		return ErrNotReady
	}
	req := refreshRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *syncer) setWatermark(w int64) {
	s.watermark.Store(w)
	watermarkSeconds.WithLabelValues(string(s.mode)).Set(float64(w))
}
