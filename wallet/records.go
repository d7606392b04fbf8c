// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/lightwallet/address"
	"github.com/btcsuite/lightwallet/kvstore"
	"github.com/google/uuid"
)

const (
	// walletKeyPrefix prefixes the key of every wallet record.
	walletKeyPrefix = "wallet_"

	// walletIDsKey holds the ordered list of wallet ids.
	walletIDsKey = "wallet_ids"
)

// ErrWalletNotFound is returned for an unknown wallet id.
var ErrWalletNotFound = errors.New("wallet not found")

// Record is the persisted description of a wallet. The mnemonic is only
// stored sealed.
type Record struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	SealedMnemonic []byte             `json:"sealed_mnemonic"`
	Account        uint32             `json:"account"`
	ScriptType     address.ScriptType `json:"script_type"`
	CreatedAt      time.Time          `json:"created_at"`
}

// recordKey returns the store key of the record with id.
func recordKey(id uuid.UUID) string {
	return walletKeyPrefix + id.String()
}

// recordStore persists wallet records in a kvstore.Store.
type recordStore struct {
	store kvstore.Store
}

// ids returns the known wallet ids in creation order.
func (r *recordStore) ids(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := kvstore.GetJSON[[]uuid.UUID](ctx, r.store, walletIDsKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}

	return ids, err
}

// put writes rec and appends its id to the id list if it is new.
func (r *recordStore) put(ctx context.Context, rec *Record) error {
	if err := kvstore.SetJSON(ctx, r.store, recordKey(rec.ID), rec); err != nil {
		return fmt.Errorf("store wallet %v: %w", rec.ID, err)
	}

	ids, err := r.ids(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, rec.ID) {
		return nil
	}

	return kvstore.SetJSON(ctx, r.store, walletIDsKey, append(ids, rec.ID))
}

// get loads the record with id.
func (r *recordStore) get(ctx context.Context, id uuid.UUID) (*Record,
	error) {

	rec, err := kvstore.GetJSON[Record](ctx, r.store, recordKey(id))
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrWalletNotFound, id)

	case err != nil:
		return nil, err
	}

	return &rec, nil
}

// list loads every record in creation order. Ids whose record vanished are
// skipped.
func (r *recordStore) list(ctx context.Context) ([]*Record, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.get(ctx, id)
		if errors.Is(err, ErrWalletNotFound) {
			log.Warnf("Wallet %v listed but missing", id)
			continue
		}
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, nil
}

// remove deletes the record with id and drops it from the id list.
func (r *recordStore) remove(ctx context.Context, id uuid.UUID) error {
	ids, err := r.ids(ctx)
	if err != nil {
		return err
	}

	idx := slices.Index(ids, id)
	if idx < 0 {
		return fmt.Errorf("%w: %v", ErrWalletNotFound, id)
	}

	err = kvstore.SetJSON(ctx, r.store, walletIDsKey,
		slices.Delete(ids, idx, idx+1))
	if err != nil {
		return err
	}

	return r.store.Delete(ctx, recordKey(id))
}
