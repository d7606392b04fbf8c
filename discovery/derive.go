// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/lightwallet/address"
	"github.com/btcsuite/lightwallet/keychain"
)

// BranchKey derives the receiving or change key below an account key.
func BranchKey(account keychain.ExtendedKey,
	branch keychain.Branch) (keychain.ExtendedKey, error) {

	return keychain.DeriveChild(account, uint32(branch), false)
}

// DeriveEntry derives the P2WPKH address at index below a branch key.
// accountPath is the path of the account the branch key belongs to.
func DeriveEntry(branchKey keychain.ExtendedKey,
	accountPath keychain.DerivationPath, branch keychain.Branch,
	index uint32, params *chaincfg.Params) (AddressEntry, error) {

	key, err := keychain.DeriveChild(branchKey, index, false)
	if err != nil {
		return AddressEntry{}, err
	}

	pub, err := key.PublicKey()
	if err != nil {
		return AddressEntry{}, err
	}

	addr, err := address.SegwitAddress(pub, 0, params)
	if err != nil {
		return AddressEntry{}, fmt.Errorf("address %v/%d: %w", branch,
			index, err)
	}

	decoded, err := address.Decode(addr, params)
	if err != nil {
		return AddressEntry{}, err
	}

	script, err := decoded.Script()
	if err != nil {
		return AddressEntry{}, err
	}

	return AddressEntry{
		Address:    addr,
		Type:       decoded.Type,
		Script:     script,
		ScriptHash: address.ScriptHash(script),
		Branch:     branch,
		Index:      index,
		Path:       accountPath.Child(uint32(branch), false).Child(index, false),
	}, nil
}
