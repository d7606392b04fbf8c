// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register bdb driver.
)

const (
	// DBFilename is the file name of the store inside its directory.
	DBFilename = "lightwallet.db"

	// DefaultDBTimeout is how long opening the database waits for the
	// file lock.
	DefaultDBTimeout = 10 * time.Second

	// dbDriver is the walletdb driver backing the store.
	dbDriver = "bdb"
)

// rootBucket holds every key of the store.
var rootBucket = []byte("lightwallet")

// DB is a Store persisted in a walletdb database.
type DB struct {
	db walletdb.DB
}

// A compile-time assertion to ensure DB implements Store.
var _ Store = (*DB)(nil)

// OpenDB opens the store in dir, creating the directory and the database on
// first use.
func OpenDB(dir string, timeout time.Duration) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, DBFilename)

	var (
		db  walletdb.DB
		err error
	)
	switch _, statErr := os.Stat(dbPath); {
	case statErr == nil:
		db, err = walletdb.Open(dbDriver, dbPath, true, timeout, false)

	case errors.Is(statErr, os.ErrNotExist):
		log.Infof("Creating key-value store at %v", dbPath)
		db, err = walletdb.Create(dbDriver, dbPath, true, timeout, false)

	default:
		return nil, statErr
	}
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", dbPath, err)
	}

	store, err := NewDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewDB wraps an already opened walletdb database, creating the root bucket
// if needed.
func NewDB(db walletdb.DB) (*DB, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(rootBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create root bucket: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get implements Store.
func (d *DB) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := walletdb.View(d.db, func(tx walletdb.ReadTx) error {
		raw := tx.ReadBucket(rootBucket).Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}

		// The slice is only valid for the life of the transaction.
		value = append([]byte(nil), raw...)

		return nil
	})

	return value, err
}

// Set implements Store.
func (d *DB) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if key == "" {
		return ErrEmptyKey
	}

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(rootBucket).Put([]byte(key), value)
	})
}

// Delete implements Store.
func (d *DB) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(rootBucket).Delete([]byte(key))
	})
}
