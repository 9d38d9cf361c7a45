// Package store provides the persistence layer: a key/value
// ObjectStore for identity records and a transactional ledger store.
// Both have Postgres and in-memory implementations; the memory
// implementations back the tests and give read-after-write consistency
// per key, which is all the services assume.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a key or row does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is get/set/delete by key with prefix listing. Keys are
// slash-separated namespaces, e.g. sessions/{user}/{uid}.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

// GetJSON reads and unmarshals the object at key.
func GetJSON(ctx context.Context, s ObjectStore, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// SetJSON marshals v and stores it at key.
func SetJSON(ctx context.Context, s ObjectStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw)
}
