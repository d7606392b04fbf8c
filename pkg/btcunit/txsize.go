// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// WeightUnit expresses a transaction size in BIP141 weight units, computed as
// `base size * 3 + total size`. It is the canonical size unit of the package.
type WeightUnit struct {
	wu uint64
}

// NewWeightUnit creates a new WeightUnit from a uint64 value.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{wu: val}
}

// Uint64 returns the raw weight.
func (w WeightUnit) Uint64() uint64 {
	return w.wu
}

// ToVB converts the weight to virtual bytes.
func (w WeightUnit) ToVB() VByte {
	return VByte{w}
}

// String returns the string representation of the weight unit.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte expresses a transaction size in virtual bytes, a quarter of a weight
// unit. The weight is kept internally so no precision is lost when a size is
// converted back and forth.
type VByte struct {
	weight WeightUnit
}

// NewVByte creates a new VByte from a whole number of virtual bytes.
func NewVByte(val uint64) VByte {
	return VByte{WeightUnit{wu: val * blockchain.WitnessScaleFactor}}
}

// ToWU converts the size to weight units.
func (v VByte) ToWU() WeightUnit {
	return v.weight
}

// Count returns the number of virtual bytes, rounded up as BIP141 requires.
func (v VByte) Count() uint64 {
	return (v.weight.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

// String returns the string representation of the virtual byte.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.Count())
}
