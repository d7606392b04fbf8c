// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units.
package btcunit

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string.
	floatStringPrecision = 3
)

// ErrInvalidFeeRate is returned when a fee rate cannot be parsed or is
// negative.
var ErrInvalidFeeRate = errors.New("invalid fee rate")

// SatPerVByte is a fee rate in sat/vbyte. Internally the rate is kept in
// satoshis per kilo-weight-unit as an exact rational so fractional rates such
// as 0.5 sat/vb carry no rounding error.
type SatPerVByte struct {
	satsPerKWU *big.Rat
}

// NewSatPerVByte creates a fee rate of a whole number of sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte calculates the fee rate paid by fee over size.
func CalcSatPerVByte(fee btcutil.Amount, size VByte) SatPerVByte {
	if size.weight.wu == 0 {
		return SatPerVByte{satsPerKWU: big.NewRat(0, 1)}
	}

	// (fee * 1000) / size_in_wu gives sat/kwu.
	return SatPerVByte{satsPerKWU: big.NewRat(
		int64(fee)*kilo, safeUint64ToInt64(size.weight.wu),
	)}
}

// ParseSatPerVByte parses a decimal sat/vb rate such as "1", "2.5" or "0.1".
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	vbRate, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || vbRate.Sign() < 0 {
		return SatPerVByte{}, fmt.Errorf("%w: %q", ErrInvalidFeeRate, s)
	}

	// sat/vb * 1000 / 4 = sat/kwu.
	kwu := new(big.Rat).Mul(
		vbRate, big.NewRat(kilo, blockchain.WitnessScaleFactor),
	)

	return SatPerVByte{satsPerKWU: kwu}, nil
}

// rat returns the canonical rate, treating the zero value as zero.
func (s SatPerVByte) rat() *big.Rat {
	if s.satsPerKWU == nil {
		return new(big.Rat)
	}

	return s.satsPerKWU
}

// IsZero reports whether the rate is zero.
func (s SatPerVByte) IsZero() bool {
	return s.rat().Sign() == 0
}

// FeeForWeight returns the fee for weight, truncated to whole satoshis.
func (s SatPerVByte) FeeForWeight(weight WeightUnit) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.rat(), big.NewRat(safeUint64ToInt64(weight.wu), kilo),
	)

	return btcutil.Amount(new(big.Int).Quo(fee.Num(), fee.Denom()).Int64())
}

// FeeForWeightRoundUp returns the fee for weight, rounded up to the next
// whole satoshi.
func (s SatPerVByte) FeeForWeightRoundUp(weight WeightUnit) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.rat(), big.NewRat(safeUint64ToInt64(weight.wu), kilo),
	)

	// Ceiling division: (num + denom - 1) / denom.
	num := new(big.Int).Add(fee.Num(), fee.Denom())
	num.Sub(num, big.NewInt(1))

	return btcutil.Amount(num.Quo(num, fee.Denom()).Int64())
}

// FeeForVSize returns ceil(vsize * rate), the fee a transaction of vsize
// whole virtual bytes pays at this rate.
func (s SatPerVByte) FeeForVSize(vsize VByte) btcutil.Amount {
	return s.FeeForWeightRoundUp(NewVByte(vsize.Count()).ToWU())
}

// SatPerKVByte returns the rate in whole sat/kvb, the unit used by the relay
// policy helpers, rounded down.
func (s SatPerVByte) SatPerKVByte() btcutil.Amount {
	return s.FeeForWeight(NewVByte(kilo).ToWU())
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.rat().Cmp(other.rat()) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.rat().Cmp(other.rat()) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.rat().Cmp(other.rat()) < 0
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	vb := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return vb.FloatString(floatStringPrecision) + " sat/vb"
}

// safeUint64ToInt64 converts a uint64 to an int64, capping the value at
// math.MaxInt64 to prevent overflow.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
