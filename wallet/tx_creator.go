// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet builds, signs and publishes transactions for a BIP84
// account and ties key derivation, discovery and the network client together
// behind a wallet facade.
package wallet

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/lightwallet/address"
	"github.com/btcsuite/lightwallet/discovery"
	"github.com/btcsuite/lightwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DustThreshold is the smallest output value the wallet creates.
	// Anything at or below it is either rejected or folded into a sibling
	// output.
	DustThreshold btcutil.Amount = 546

	// DefaultMinConfs is the number of confirmations a UTXO needs before
	// it is selected.
	DefaultMinConfs int32 = 1
)

var (
	// ErrInsufficientFunds is returned when the eligible UTXOs cannot
	// cover the amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDustOutput is returned when the recipient output would be at or
	// below the dust threshold.
	ErrDustOutput = errors.New("output below dust threshold")

	// ErrMissingFeeRate is returned when a transaction is created without
	// a fee rate.
	ErrMissingFeeRate = errors.New("missing fee rate")

	// ErrFeeRateTooLarge is returned when a transaction is created with a
	// fee rate above DefaultMaxFeeRate.
	ErrFeeRateTooLarge = errors.New("fee rate too large")

	// ErrDuplicatedUtxo is returned when a UTXO is offered more than once.
	ErrDuplicatedUtxo = errors.New("duplicated utxo")

	// ErrMissingChangeAddress is returned when no change address is
	// given.
	ErrMissingChangeAddress = errors.New("missing change address")

	// errUnbalanced is returned when the built transaction does not
	// conserve value. It signals a bug.
	errUnbalanced = errors.New("transaction does not balance")
)

// DefaultMaxFeeRate is the largest fee rate the wallet considers sane.
//
//nolint:mnd // 1000 sat/vb.
var DefaultMaxFeeRate = btcunit.NewSatPerVByte(1000)

// CoinSelectionStrategy orders the eligible UTXOs before they are
// accumulated into a transaction.
type CoinSelectionStrategy interface {
	// ArrangeCoins returns the UTXOs in the order they should be spent.
	ArrangeCoins(eligible []discovery.UTXO) []discovery.UTXO
}

var (
	// CoinSelectionLargest always picks the largest available utxo to add
	// to the transaction next.
	CoinSelectionLargest CoinSelectionStrategy = &LargestFirstCoinSelector{}

	// CoinSelectionRandom randomly selects the next utxo to add to the
	// transaction.
	CoinSelectionRandom CoinSelectionStrategy = &RandomCoinSelector{}
)

// VSizeEstimator returns the virtual size of a transaction spending
// numInputs P2WPKH outputs into outputs.
type VSizeEstimator func(numInputs int, outputs []*wire.TxOut) btcunit.VByte

// EstimateP2WPKHVSize is the default VSizeEstimator.
func EstimateP2WPKHVSize(numInputs int, outputs []*wire.TxOut) btcunit.VByte {
	vsize := txsizes.EstimateVirtualSize(0, 0, numInputs, 0, outputs, 0)

	return btcunit.NewVByte(uint64(vsize))
}

// BuildRequest describes a payment to a single recipient.
type BuildRequest struct {
	// Recipient is the address paid.
	Recipient string

	// Amount is paid to Recipient before change folding.
	Amount btcutil.Amount

	// FeeRate is the rate the transaction pays.
	FeeRate btcunit.SatPerVByte

	// UTXOs are the candidate inputs. Spent ones are ignored.
	UTXOs []discovery.UTXO

	// ChangeAddress receives the change, if any.
	ChangeAddress string

	// MinConfs overrides DefaultMinConfs.
	MinConfs fn.Option[int32]

	// Params selects the network. Nil means mainnet.
	Params *chaincfg.Params

	// Strategy overrides CoinSelectionLargest.
	Strategy CoinSelectionStrategy

	// EstimateVSize overrides EstimateP2WPKHVSize.
	EstimateVSize VSizeEstimator
}

// UnsignedTx is a balanced transaction ready to be signed.
type UnsignedTx struct {
	*txauthor.AuthoredTx

	// Inputs are the UTXOs spent, in input order.
	Inputs []discovery.UTXO

	// Fee is TotalInput minus the output total.
	Fee btcutil.Amount

	// VSize is the size the fee was computed for.
	VSize btcunit.VByte

	// FeeRate is the requested rate.
	FeeRate btcunit.SatPerVByte
}

// HasChange reports whether the transaction carries a change output.
func (u *UnsignedTx) HasChange() bool {
	return u.ChangeIndex >= 0
}

// BuildTransaction selects UTXOs for req and assembles the unsigned
// transaction. Validation happens before any selection: a request that fails
// here never reaches the network.
//
// The recipient output comes first, followed by the change output when the
// change exceeds DustThreshold. Smaller change is folded into the recipient
// output. If the inputs cover the amount only without a change output, the
// remainder is folded into the recipient as well.
func BuildTransaction(req *BuildRequest) (*UnsignedTx, error) {
	params := req.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	recipientScript, changeScript, err := validateBuildRequest(req, params)
	if err != nil {
		return nil, err
	}

	minConfs := req.MinConfs.UnwrapOr(DefaultMinConfs)
	eligible, err := eligibleUTXOs(req.UTXOs, minConfs)
	if err != nil {
		return nil, err
	}

	strategy := req.Strategy
	if strategy == nil {
		strategy = CoinSelectionLargest
	}
	estimate := req.EstimateVSize
	if estimate == nil {
		estimate = EstimateP2WPKHVSize
	}

	eligible = strategy.ArrangeCoins(eligible)

	withChange := []*wire.TxOut{
		wire.NewTxOut(int64(req.Amount), recipientScript),
		wire.NewTxOut(0, changeScript),
	}
	noChange := withChange[:1]

	var (
		selected []discovery.UTXO
		total    btcutil.Amount
	)
	for _, utxo := range eligible {
		selected = append(selected, utxo)
		total += utxo.Value

		vsize := estimate(len(selected), withChange)
		fee := req.FeeRate.FeeForVSize(vsize)
		change := total - req.Amount - fee

		switch {
		case change > DustThreshold:
			return assemble(
				selected, req, recipientScript, req.Amount,
				changeScript, change, vsize,
			)

		case change >= 0:
			log.Debugf("Folding %v of change into the recipient",
				change)

			return assemble(
				selected, req, recipientScript,
				req.Amount+change, nil, 0, vsize,
			)
		}

		// Without a change output the transaction is smaller and may
		// already be covered.
		vsize = estimate(len(selected), noChange)
		fee = req.FeeRate.FeeForVSize(vsize)
		if rest := total - req.Amount - fee; rest >= 0 {
			return assemble(
				selected, req, recipientScript, req.Amount+rest,
				nil, 0, vsize,
			)
		}
	}

	vsize := estimate(max(len(eligible), 1), noChange)
	needed := req.Amount + req.FeeRate.FeeForVSize(vsize)

	return nil, fmt.Errorf("%w: need at least %v, have %v in %d "+
		"eligible utxos", ErrInsufficientFunds, needed, total,
		len(eligible))
}

// validateBuildRequest checks amounts, fee rate and addresses, and returns
// the recipient and change output scripts.
func validateBuildRequest(req *BuildRequest,
	params *chaincfg.Params) ([]byte, []byte, error) {

	if err := btcunit.ValidateAmount(req.Amount); err != nil {
		return nil, nil, err
	}
	if req.Amount <= DustThreshold {
		return nil, nil, fmt.Errorf("%w: %v", ErrDustOutput, req.Amount)
	}

	if req.FeeRate.IsZero() {
		return nil, nil, ErrMissingFeeRate
	}
	if req.FeeRate.GreaterThan(DefaultMaxFeeRate) {
		return nil, nil, fmt.Errorf("%w: %v > %v", ErrFeeRateTooLarge,
			req.FeeRate, DefaultMaxFeeRate)
	}

	recipientScript, err := address.OutputScript(req.Recipient, params)
	if err != nil {
		return nil, nil, fmt.Errorf("recipient: %w", err)
	}

	if req.ChangeAddress == "" {
		return nil, nil, ErrMissingChangeAddress
	}
	changeScript, err := address.OutputScript(req.ChangeAddress, params)
	if err != nil {
		return nil, nil, fmt.Errorf("change address: %w", err)
	}

	err = txrules.CheckOutput(
		wire.NewTxOut(int64(req.Amount), recipientScript),
		txrules.DefaultRelayFeePerKb,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDustOutput, err)
	}

	return recipientScript, changeScript, nil
}

// eligibleUTXOs filters out spent and insufficiently confirmed UTXOs and
// rejects duplicates and out of range values.
func eligibleUTXOs(utxos []discovery.UTXO,
	minConfs int32) ([]discovery.UTXO, error) {

	seen := fn.NewSet[wire.OutPoint]()
	for _, u := range utxos {
		if err := btcunit.ValidateAmount(u.Value); err != nil {
			return nil, fmt.Errorf("utxo %v: %w", u.OutPoint, err)
		}
		if seen.Contains(u.OutPoint) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicatedUtxo,
				u.OutPoint)
		}
		seen.Add(u.OutPoint)
	}

	return discovery.Spendable(utxos, minConfs), nil
}

// assemble builds the transaction over selected. A nil changeScript omits
// the change output.
func assemble(selected []discovery.UTXO, req *BuildRequest,
	recipientScript []byte, recipientValue btcutil.Amount,
	changeScript []byte, change btcutil.Amount,
	vsize btcunit.VByte) (*UnsignedTx, error) {

	tx := wire.NewMsgTx(wire.TxVersion)
	authored := &txauthor.AuthoredTx{
		Tx:          tx,
		ChangeIndex: -1,
	}

	for _, utxo := range selected {
		outpoint := utxo.OutPoint
		tx.AddTxIn(wire.NewTxIn(&outpoint, nil, nil))

		authored.PrevScripts = append(
			authored.PrevScripts, utxo.PkScript,
		)
		authored.PrevInputValues = append(
			authored.PrevInputValues, utxo.Value,
		)
		authored.TotalInput += utxo.Value
	}

	tx.AddTxOut(wire.NewTxOut(int64(recipientValue), recipientScript))
	if changeScript != nil {
		authored.ChangeIndex = len(tx.TxOut)
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	var outTotal btcutil.Amount
	for _, out := range tx.TxOut {
		value := btcutil.Amount(out.Value)
		if value <= DustThreshold {
			return nil, fmt.Errorf("%w: output of %v",
				ErrDustOutput, value)
		}
		if err := btcunit.ValidateAmount(value); err != nil {
			return nil, fmt.Errorf("output: %w", err)
		}
		outTotal += value
	}
	if err := btcunit.ValidateAmount(outTotal); err != nil {
		return nil, fmt.Errorf("output total: %w", err)
	}

	fee := authored.TotalInput - outTotal
	if fee < 0 {
		return nil, fmt.Errorf("%w: inputs %v, outputs %v",
			errUnbalanced, authored.TotalInput, outTotal)
	}

	log.Debugf("Built tx %v: %d inputs, %d outputs, fee %v for %v at %v",
		tx.TxHash(), len(tx.TxIn), len(tx.TxOut), fee, vsize,
		req.FeeRate)

	return &UnsignedTx{
		AuthoredTx: authored,
		Inputs:     selected,
		Fee:        fee,
		VSize:      vsize,
		FeeRate:    req.FeeRate,
	}, nil
}

// sortByAmount is a generic sortable type for sorting coins by their amount.
type sortByAmount []discovery.UTXO

func (s sortByAmount) Len() int { return len(s) }
func (s sortByAmount) Less(i, j int) bool {
	return s[i].Value < s[j].Value
}
func (s sortByAmount) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// LargestFirstCoinSelector is an implementation of the CoinSelectionStrategy
// that always selects the largest coins first.
type LargestFirstCoinSelector struct{}

// ArrangeCoins sorts a copy of eligible by descending value.
func (*LargestFirstCoinSelector) ArrangeCoins(
	eligible []discovery.UTXO) []discovery.UTXO {

	arranged := append([]discovery.UTXO(nil), eligible...)
	sort.Stable(sort.Reverse(sortByAmount(arranged)))

	return arranged
}

// RandomCoinSelector is an implementation of the CoinSelectionStrategy that
// selects coins at random. This prevents the creation of ever smaller UTXOs
// over time that may never become economical to spend.
type RandomCoinSelector struct{}

// ArrangeCoins shuffles a copy of eligible.
func (*RandomCoinSelector) ArrangeCoins(
	eligible []discovery.UTXO) []discovery.UTXO {

	arranged := append([]discovery.UTXO(nil), eligible...)
	rand.Shuffle(len(arranged), func(i, j int) {
		arranged[i], arranged[j] = arranged[j], arranged[i]
	})

	return arranged
}
