package locator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDBStore keeps one route per key ("r:<id>") plus a meta record
// ("g:meta"). A save is a single leveldb batch, so readers see either the
// previous snapshot or the new one.
type levelDBStore struct {
	db *leveldb.DB

	// serializes saves; the stale-key scan must not interleave with
	// another batch
	mu sync.Mutex
}

var (
	routePrefix = []byte("r:")
	metaKey     = []byte("g:meta")
)

type levelDBMeta struct {
	Version    int
	Watermark  int64
	Localities map[string]string
	Slugs      map[string]string
	Count      int
}

func openLevelDBStore(path string) (*levelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBackupStoreUnavailable, path, err)
	}
	return &levelDBStore{db: db}, nil
}

func (s *levelDBStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)

	it := s.db.NewIterator(util.BytesPrefix(routePrefix), nil)
	for it.Next() {
		id := string(bytes.TrimPrefix(it.Key(), routePrefix))
		if _, keep := snap.Routes[id]; !keep {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("%w: scan routes: %v", ErrBackupStoreUnavailable, err)
	}

	for id, cell := range snap.Routes {
		batch.Put(append(append([]byte(nil), routePrefix...), id...), []byte(cell))
	}
	mb, err := encodeGob(levelDBMeta{
		Version:    snapshotVersion,
		Watermark:  snap.Watermark,
		Localities: snap.Localities,
		Slugs:      snap.Slugs,
		Count:      len(snap.Routes),
	})
	if err != nil {
		return err
	}
	batch.Put(metaKey, mb)

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: write batch: %v", ErrBackupStoreUnavailable, err)
	}
	return nil
}

func (s *levelDBStore) Load(ctx context.Context) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	dbSnap, err := s.db.GetSnapshot()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %v", ErrBackupStoreUnavailable, err)
	}
	defer dbSnap.Release()

	mb, err := dbSnap.Get(metaKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: read meta: %v", ErrBackupStoreUnavailable, err)
	}
	var meta levelDBMeta
	if err := decodeGob(mb, &meta); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: decode meta: %v", ErrBackupStoreUnavailable, err)
	}
	if err := checkSnapshotVersion(meta.Version); err != nil {
		return Snapshot{}, false, err
	}

	routes := make(map[string]string, meta.Count)
	it := dbSnap.NewIterator(util.BytesPrefix(routePrefix), nil)
	defer it.Release()
	for it.Next() {
		routes[string(bytes.TrimPrefix(it.Key(), routePrefix))] = string(it.Value())
	}
	if err := it.Error(); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: read routes: %v", ErrBackupStoreUnavailable, err)
	}
	if len(routes) != meta.Count {
		return Snapshot{}, false, fmt.Errorf("%w: snapshot has %d routes, meta says %d", ErrBackupStoreUnavailable, len(routes), meta.Count)
	}

	return Snapshot{
		Version:    meta.Version,
		Routes:     routes,
		Slugs:      meta.Slugs,
		Localities: meta.Localities,
		Watermark:  meta.Watermark,
	}, true, nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}
