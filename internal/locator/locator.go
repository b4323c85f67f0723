// Package locator resolves organization or project identifiers to the cell
// that owns them. A Locator keeps an in-memory copy of the control plane's
// mappings, kept fresh by a background sync engine, and falls back to a
// persisted snapshot when the control plane cannot be reached at startup.
package locator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"synapse/internal/telemetry"
)

// Locator is safe for concurrent use. Lookups never block on the sync
// engine except for the bounded on-demand refresh on a miss.
type Locator struct {
	cfg    Config
	store  *mappingStore
	neg    *negativeCache
	sync   *syncer
	backup BackupStore

	refreshGroup singleflight.Group

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Locator from a compiled Config. The Locator owns backup and
// closes it in Close. Call Start to begin syncing.
func New(cfg Config, backup BackupStore) (*Locator, error) {
	cp, err := newControlPlaneClient(cfg.ControlPlane, telemetry.InstrumentClient(nil))
	if err != nil {
		return nil, err
	}
	store := newMappingStore(cfg.Mode)
	ctx, cancel := context.WithCancel(context.Background())
	return &Locator{
		cfg:    cfg,
		store:  store,
		neg:    newNegativeCache(cfg.NegativeCache.ttlDur, cfg.NegativeCache.Size),
		sync:   newSyncer(cfg, store, cp, backup),
		backup: backup,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the sync engine.
func (l *Locator) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.sync.run(l.ctx)
	}()
}

// Close stops the sync engine, flushes a final snapshot and closes the
// backup store.
func (l *Locator) Close() error {
	l.cancel()
	l.wg.Wait()
	return l.backup.Close()
}

func (l *Locator) Mode() Mode { return l.cfg.Mode }

// Ready reports whether a complete mapping (from the control plane or a
// backup) has been loaded.
func (l *Locator) Ready() bool { return l.sync.ready.Load() }

func (l *Locator) State() State { return l.sync.State() }

// Lookup returns the cell owning id. Misses return ErrNotFound, or
// ErrNotReady while no complete mapping is loaded.
func (l *Locator) Lookup(ctx context.Context, id string) (string, error) {
	cell, err := l.lookup(ctx, id)
	lookupsTotal.WithLabelValues(lookupResult(err)).Inc()
	return cell, err
}

// LookupInLocality is Lookup constrained to one locality. A miss falls back
// to the locality's default cell when one is configured.
func (l *Locator) LookupInLocality(ctx context.Context, id, locality string) (string, error) {
	cell, err := l.Lookup(ctx, id)
	if errors.Is(err, ErrNotFound) {
		if def, ok := l.cfg.LocalityToDefaultCell[locality]; ok {
			return def, nil
		}
		return "", err
	}
	if err != nil {
		return "", err
	}
	if loc, ok := l.store.Locality(cell); ok && loc != locality {
		return "", fmt.Errorf("%w: requested %q, cell %q is in %q", ErrLocalityMismatch, locality, cell, loc)
	}
	return cell, nil
}

func (l *Locator) lookup(ctx context.Context, id string) (string, error) {
	if cell, ok := l.store.Get(id); ok {
		return cell, nil
	}
	if !l.Ready() {
		return "", ErrNotReady
	}
	if l.neg.Contains(id, l.now()) {
		negativeCacheHits.Inc()
		return "", ErrNotFound
	}

	if err := l.refresh(ctx); err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	if cell, ok := l.store.Get(id); ok {
		return cell, nil
	}

	negativeCacheMisses.Inc()
	l.neg.Insert(id, l.now())
	return "", ErrNotFound
}

// refresh runs one on-demand incremental sync, shared by all lookups that
// miss at the same time. Its timeout is independent of the caller's so a
// slow control plane turns into a miss, not a hung request.
func (l *Locator) refresh(ctx context.Context) error {
	ch := l.refreshGroup.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(l.ctx, l.cfg.refreshTimeoutDur)
		defer cancel()
		return nil, l.sync.requestRefresh(rctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lookupResult(err error) string {
	switch {
	case err == nil:
		return "hit"
	case errors.Is(err, ErrNotFound):
		return "miss"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	default:
		return "error"
	}
}
