// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// ErrInvalidAmount is returned for satoshi values that are not a positive
// whole number within the coin supply.
var ErrInvalidAmount = errors.New("invalid amount")

// ValidateAmount checks 0 < amt <= 21M BTC.
func ValidateAmount(amt btcutil.Amount) error {
	switch {
	case amt <= 0:
		return fmt.Errorf("%w: %d sat is not positive", ErrInvalidAmount,
			amt)

	case amt > btcutil.MaxSatoshi:
		return fmt.Errorf("%w: %d sat exceeds the supply",
			ErrInvalidAmount, amt)

	default:
		return nil
	}
}

// AmountFromSats converts a satoshi value coming from an untyped source, such
// as JSON, into an Amount. Fractional, non-finite, non-positive and
// supply-exceeding values are rejected rather than rounded.
func AmountFromSats(sats float64) (btcutil.Amount, error) {
	if math.IsNaN(sats) || math.IsInf(sats, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, sats)
	}

	if sats != math.Trunc(sats) {
		return 0, fmt.Errorf("%w: %v is not a whole number of satoshis",
			ErrInvalidAmount, sats)
	}

	if sats > float64(btcutil.MaxSatoshi) {
		return 0, fmt.Errorf("%w: %v sat exceeds the supply",
			ErrInvalidAmount, sats)
	}

	amt := btcutil.Amount(sats)
	if err := ValidateAmount(amt); err != nil {
		return 0, err
	}

	return amt, nil
}

// ParseSats parses a decimal satoshi string strictly.
func ParseSats(s string) (btcutil.Amount, error) {
	sats, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	amt := btcutil.Amount(sats)
	if err := ValidateAmount(amt); err != nil {
		return 0, err
	}

	return amt, nil
}
