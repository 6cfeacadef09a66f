// Package kv is the durable key-value layer used for learning profiles,
// memory snapshots and the Matrix sync token.
//
// Any backend that can Get, Put and Delete opaque byte values qualifies.
// SQLite, Redis and an in-process map are provided.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: not found")

// Store is the durable key-value interface.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Key joins parts with ":" to build a namespaced key, e.g.
// Key("profile", userID) → "profile:@alice:example.org".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// GetJSON reads key and decodes it into dst. It returns ErrNotFound
// unchanged so callers can test for it.
func GetJSON(ctx context.Context, s Store, key string, dst any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}
