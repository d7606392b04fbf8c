package wallet

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/lightwallet/electrum"
	"github.com/btcsuite/lightwallet/internal/seal"
	"github.com/btcsuite/lightwallet/keychain"
	"github.com/btcsuite/lightwallet/kvstore"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassphrase = "correct horse battery staple"

// testZpub is the BIP84 account 0 key of zeroMnemonic.
const testZpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhX" +
	"NfE3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"

// newTestManager returns a manager over a memory store and net.
func newTestManager(t *testing.T, store kvstore.Store,
	net Network) *Manager {

	t.Helper()

	m, err := NewManager(Config{
		Store:      store,
		Network:    net,
		SealParams: fn.Some(fastSeal),
	})
	require.NoError(t, err)

	return m
}

// TestManagerLifecycle walks a wallet through create, open, unlock and
// delete.
func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := kvstore.NewMemory()
	m := newTestManager(t, store, nil)

	w, err := m.Create(ctx, "savings", "  ABANDON abandon abandon abandon "+
		"abandon abandon abandon abandon abandon abandon abandon about ",
		testPassphrase)
	require.NoError(t, err)
	require.False(t, w.IsLocked())
	require.Equal(t, "savings", w.Name())

	mnemonic, err := w.Mnemonic()
	require.NoError(t, err)
	require.Equal(t, zeroMnemonic, mnemonic)

	zpub, err := w.AccountZpub()
	require.NoError(t, err)
	require.Equal(t, testZpub, zpub)

	// Only the sealed form of the mnemonic is persisted.
	snapshot := store.Snapshot()
	require.Contains(t, snapshot, walletIDsKey)
	require.Contains(t, snapshot, recordKey(w.ID()))
	for key, value := range snapshot {
		require.NotContains(t, string(value), "abandon", key)
	}

	records, err := m.ListWallets(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, w.ID(), records[0].ID)
	require.Equal(t, "m/84'/0'/0'", w.AccountPath().String())

	opened, err := m.Open(ctx, w.ID())
	require.NoError(t, err)
	require.True(t, opened.IsLocked())

	_, err = opened.Mnemonic()
	require.ErrorIs(t, err, ErrLocked)
	_, err = opened.AccountZpub()
	require.ErrorIs(t, err, ErrLocked)
	_, err = opened.Rescan(ctx)
	require.ErrorIs(t, err, ErrLocked)

	err = opened.Unlock("not the passphrase")
	require.ErrorIs(t, err, seal.ErrWrongPassphrase)
	require.True(t, opened.IsLocked())

	require.NoError(t, opened.Unlock(testPassphrase))
	zpub, err = opened.AccountZpub()
	require.NoError(t, err)
	require.Equal(t, testZpub, zpub)

	opened.Lock()
	require.True(t, opened.IsLocked())

	require.NoError(t, m.DeleteWallet(ctx, w.ID()))

	_, err = m.Open(ctx, w.ID())
	require.ErrorIs(t, err, ErrWalletNotFound)
	require.ErrorIs(t, m.DeleteWallet(ctx, w.ID()), ErrWalletNotFound)

	records, err = m.ListWallets(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
	require.NotContains(t, store.Snapshot(), recordKey(w.ID()))
}

// TestManagerCreate checks mnemonic generation and rejection.
func TestManagerCreate(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	m := newTestManager(t, kvstore.NewMemory(), nil)

	w, err := m.Create(ctx, "fresh", "", testPassphrase)
	require.NoError(t, err)

	mnemonic, err := w.Mnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(mnemonic), 12)
	require.NoError(t, keychain.ValidateMnemonic(mnemonic))

	_, err = m.Create(ctx, "bad", "abandon abandon abandon", testPassphrase)
	require.ErrorIs(t, err, keychain.ErrInvalidMnemonic)

	_, err = m.Create(ctx, "open", zeroMnemonic, "")
	require.ErrorIs(t, err, seal.ErrEmptyPassphrase)

	records, err := m.ListWallets(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = NewManager(Config{})
	require.ErrorIs(t, err, ErrMissingStore)
}

// TestWalletNotScanned checks the operations needing a scan.
func TestWalletNotScanned(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	m := newTestManager(t, kvstore.NewMemory(), nil)

	w, err := m.Create(ctx, "empty", zeroMnemonic, testPassphrase)
	require.NoError(t, err)

	_, err = w.Balance()
	require.ErrorIs(t, err, ErrNotScanned)
	_, err = w.History()
	require.ErrorIs(t, err, ErrNotScanned)
	_, err = w.NextReceiveAddress()
	require.ErrorIs(t, err, ErrNotScanned)
	_, err = w.CreateTransaction(SendRequest{
		Recipient: recipientAddr,
		Amount:    50_000,
		FeeRate:   oneSatPerVByte,
	})
	require.ErrorIs(t, err, ErrNotScanned)

	_, err = w.Rescan(ctx)
	require.ErrorIs(t, err, ErrMissingNetwork)
	_, err = w.Send(ctx, SendRequest{})
	require.ErrorIs(t, err, ErrMissingNetwork)
}

// fundingTx pays value to script from a foreign outpoint.
func fundingTx(script []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: chainhash.Hash{0xee}}, nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(value, script))

	return tx
}

// TestWalletSend scans a funded wallet and pays from it.
func TestWalletSend(t *testing.T) {
	t.Parallel()

	recv0 := testEntry(t, keychain.ExternalBranch, 0)
	recv1 := testEntry(t, keychain.ExternalBranch, 1)
	change0 := testEntry(t, keychain.InternalBranch, 0)

	funding := fundingTx(recv0.Script, 100_000)

	var broadcast *wire.MsgTx
	reply := func(rawHex string) string {
		raw, err := hex.DecodeString(rawHex)
		if err != nil {
			return ""
		}

		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return ""
		}
		broadcast = &tx

		return tx.TxHash().String()
	}

	session := &mockSession{}
	session.On("ScriptHashHistory", mock.Anything, recv0.ScriptHash).Return(
		[]electrum.HistoryItem{{
			TxHash: funding.TxHash().String(),
			Height: 100,
		}}, nil,
	)
	session.On("ScriptHashHistory", mock.Anything, mock.Anything).Return(
		[]electrum.HistoryItem(nil), nil,
	)
	session.On("Transaction", mock.Anything, funding.TxHash()).Return(
		funding, nil,
	)
	session.On("HeadersSubscribe", mock.Anything).Return(
		electrum.HeaderNotification{Height: 110}, nil,
	)
	session.On("Broadcast", mock.Anything, mock.Anything).Return(
		reply, nil,
	).Once()
	session.On("Close").Return(nil)

	net := &mockNetwork{}
	net.On("Connect", mock.Anything).Return(session, nil)

	ctx := t.Context()
	m := newTestManager(t, kvstore.NewMemory(), net)
	w, err := m.Create(ctx, "spend", zeroMnemonic, testPassphrase)
	require.NoError(t, err)

	res, err := w.Rescan(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 110, res.TipHeight)

	balance, err := w.Balance()
	require.NoError(t, err)
	require.EqualValues(t, 100_000, balance)

	next, err := w.NextReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, recv1.Address, next)

	history, err := w.History()
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.EqualValues(t, 100_000, history[0].Net)

	result, err := w.Send(ctx, SendRequest{
		Recipient: recipientAddr,
		Amount:    50_000,
		FeeRate:   oneSatPerVByte,
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)

	require.NotNil(t, broadcast)
	require.Equal(t, broadcast.TxHash().String(), result.TxID)
	require.Len(t, broadcast.TxIn, 1)
	require.Equal(t, wire.OutPoint{Hash: funding.TxHash()},
		broadcast.TxIn[0].PreviousOutPoint)
	require.Len(t, broadcast.TxOut, 2)
	require.EqualValues(t, 50_000, broadcast.TxOut[0].Value)
	require.Equal(t, change0.Script, broadcast.TxOut[1].PkScript)

	var fee int64 = 100_000
	for _, out := range broadcast.TxOut {
		fee -= out.Value
	}
	require.Positive(t, fee)

	session.AssertNumberOfCalls(t, "Broadcast", 1)
	session.AssertCalled(t, "Close")

	// A locked wallet keeps its scan but cannot spend.
	w.Lock()
	_, err = w.Balance()
	require.NoError(t, err)
	_, err = w.Send(ctx, SendRequest{
		Recipient: recipientAddr,
		Amount:    10_000,
		FeeRate:   oneSatPerVByte,
	})
	require.ErrorIs(t, err, ErrLocked)
}

// TestWalletRescanConnectFailure checks that a scan needs at least one
// session.
func TestWalletRescanConnectFailure(t *testing.T) {
	t.Parallel()

	net := &mockNetwork{}
	net.On("Connect", mock.Anything).Return(nil, errMock)

	ctx := t.Context()
	m := newTestManager(t, kvstore.NewMemory(), net)
	w, err := m.Create(ctx, "offline", zeroMnemonic, testPassphrase)
	require.NoError(t, err)

	_, err = w.Rescan(ctx)
	require.ErrorIs(t, err, errMock)

	_, err = w.Balance()
	require.ErrorIs(t, err, ErrNotScanned)
}
