package matrix

// syncstore.go implements mautrix.SyncStore on top of kv.Store. Persisting
// the next_batch token across restarts keeps the bot from replaying room
// history and processing utterances it already handled.

import (
	"context"
	"errors"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/kotoba/internal/kotoba/kv"
)

// Namespace prefixes every sync key.
const Namespace = "matrix"

var _ mautrix.SyncStore = (*KVSyncStore)(nil)

// KVSyncStore stores each value under matrix:<user_id>:<key>.
type KVSyncStore struct {
	store kv.Store
}

// NewKVSyncStore returns a sync store backed by store.
func NewKVSyncStore(store kv.Store) *KVSyncStore {
	return &KVSyncStore{store: store}
}

func (s *KVSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID, "filter_id", filterID)
}

// LoadFilterID returns "" when no filter has been saved yet.
func (s *KVSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "filter_id")
}

func (s *KVSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.save(ctx, userID, "next_batch", nextBatchToken)
}

// LoadNextBatch returns "" on first run.
func (s *KVSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "next_batch")
}

func (s *KVSyncStore) save(ctx context.Context, userID id.UserID, key, value string) error {
	return s.store.Put(ctx, kv.Key(Namespace, userID.String(), key), []byte(value))
}

func (s *KVSyncStore) load(ctx context.Context, userID id.UserID, key string) (string, error) {
	data, err := s.store.Get(ctx, kv.Key(Namespace, userID.String(), key))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
