package locator

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisStore writes the whole snapshot as one value, so a save is a single
// object overwrite and a concurrent load sees the old or the new snapshot.
type redisStore struct {
	client *redis.Client
	key    string
}

func newRedisStore(cfg BackupConfig) *redisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisStore{client: client, key: cfg.Key}
}

func (s *redisStore) Save(ctx context.Context, snap Snapshot) error {
	snap.Version = snapshotVersion
	b, err := encodeGob(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrBackupStoreUnavailable, s.key, err)
	}
	return nil
}

func (s *redisStore) Load(ctx context.Context) (Snapshot, bool, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: get %s: %v", ErrBackupStoreUnavailable, s.key, err)
	}
	var snap Snapshot
	if err := decodeGob(b, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: decode %s: %v", ErrBackupStoreUnavailable, s.key, err)
	}
	if err := checkSnapshotVersion(snap.Version); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
