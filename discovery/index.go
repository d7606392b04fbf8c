// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"sort"

	"github.com/btcsuite/lightwallet/address"
	"github.com/btcsuite/lightwallet/keychain"
)

// AddressEntry is one derived wallet address.
type AddressEntry struct {
	// Address is the encoded address.
	Address string

	// Type is the script type of the address.
	Type address.ScriptType

	// Script is the output script paying to the address.
	Script []byte

	// ScriptHash is the Electrum index key of Script.
	ScriptHash string

	// Branch is the receiving or change role of the address.
	Branch keychain.Branch

	// Index is the last level of Path.
	Index uint32

	// Path is the full derivation path from the master key.
	Path keychain.DerivationPath

	// Used is set once any transaction references the address.
	Used bool
}

// AddressIndex maps wallet addresses and their output scripts to derivation
// paths. It is filled once by a scan and read-only afterwards, which lets the
// signer resolve an input's key without re-deriving the gap window.
type AddressIndex struct {
	byAddr   map[string]AddressEntry
	byScript map[string]string
}

// NewAddressIndex builds an index over entries.
func NewAddressIndex(entries ...AddressEntry) *AddressIndex {
	idx := &AddressIndex{
		byAddr:   make(map[string]AddressEntry, len(entries)),
		byScript: make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		idx.add(e)
	}

	return idx
}

// add inserts or replaces an entry.
func (x *AddressIndex) add(e AddressEntry) {
	x.byAddr[e.Address] = e
	x.byScript[string(e.Script)] = e.Address
}

// Lookup returns the entry of an encoded address.
func (x *AddressIndex) Lookup(addr string) (AddressEntry, bool) {
	if x == nil {
		return AddressEntry{}, false
	}

	e, ok := x.byAddr[addr]

	return e, ok
}

// LookupScript returns the entry whose output script is script.
func (x *AddressIndex) LookupScript(script []byte) (AddressEntry, bool) {
	if x == nil {
		return AddressEntry{}, false
	}

	addr, ok := x.byScript[string(script)]
	if !ok {
		return AddressEntry{}, false
	}

	return x.Lookup(addr)
}

// Len returns the number of indexed addresses.
func (x *AddressIndex) Len() int {
	if x == nil {
		return 0
	}

	return len(x.byAddr)
}

// Entries returns every entry ordered by branch, then index.
func (x *AddressIndex) Entries() []AddressEntry {
	if x == nil {
		return nil
	}

	out := make([]AddressEntry, 0, len(x.byAddr))
	for _, e := range x.byAddr {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Branch != out[j].Branch {
			return out[i].Branch < out[j].Branch
		}

		return out[i].Index < out[j].Index
	})

	return out
}
