package locator

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log"
)

// BackupStore persists route snapshots so a Locator can serve when the
// control plane is down at startup.
//
// Load returns ok=false when no snapshot was ever saved. That is not an
// error; an unreachable store is.
type BackupStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (snap Snapshot, ok bool, err error)
	Close() error
}

// NewBackupStore builds the store selected by cfg.Type. cfg must have been
// compiled as part of a Config.
func NewBackupStore(cfg BackupConfig) (BackupStore, error) {
	switch cfg.Type {
	case "none", "":
		return noopBackupStore{}, nil
	case "filesystem":
		return openLevelDBStore(cfg.Path)
	case "redis":
		return newRedisStore(cfg), nil
	default:
		return nil, configErr("backup_route_store.type", "unknown type %q", cfg.Type)
	}
}

type noopBackupStore struct{}

func (noopBackupStore) Save(context.Context, Snapshot) error { return nil }

func (noopBackupStore) Load(context.Context) (Snapshot, bool, error) {
	log.Printf("locator: backup route store is disabled, no snapshot to load")
	return Snapshot{}, false, nil
}

func (noopBackupStore) Close() error { return nil }

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func checkSnapshotVersion(v int) error {
	if v == 0 || v > snapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", ErrBackupStoreUnavailable, v)
	}
	return nil
}
