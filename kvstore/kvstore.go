// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvstore provides the opaque string-keyed storage the wallet engine
// persists its records in. The engine only ever needs get, set and delete by
// key; the storage policy belongs to the host.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
)

var (
	// ErrNotFound is returned by Get when the key has never been set or
	// was deleted.
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey is returned when an empty key is used.
	ErrEmptyKey = errors.New("empty key")
)

// Store is the key-value collaborator of the wallet engine.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetJSON loads the value under key and decodes it into T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var out T

	raw, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %q: %w", key, err)
	}

	return out, nil
}

// SetJSON encodes value as JSON and stores it under key.
func SetJSON[T any](ctx context.Context, s Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	return s.Set(ctx, key, raw)
}

// Memory is an in-process Store. Values are copied on the way in and out so
// callers never share a backing array with the store.
type Memory struct {
	mtx    sync.RWMutex
	values map[string][]byte
}

// A compile-time assertion to ensure Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return append([]byte(nil), value...), nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if key == "" {
		return ErrEmptyKey
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.values[key] = append([]byte(nil), value...)

	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	delete(m.values, key)

	return nil
}

// Snapshot returns a shallow copy of the stored map, mostly useful in tests.
func (m *Memory) Snapshot() map[string][]byte {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return maps.Clone(m.values)
}
