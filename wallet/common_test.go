package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/lightwallet/discovery"
	"github.com/btcsuite/lightwallet/electrum"
	"github.com/btcsuite/lightwallet/internal/seal"
	"github.com/btcsuite/lightwallet/keychain"
	"github.com/btcsuite/lightwallet/pkg/btcunit"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// zeroMnemonic encodes 16 zero bytes of entropy.
const zeroMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

// recipientAddr is a mainnet P2WPKH address outside the wallet.
const recipientAddr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

var (
	errMock      = errors.New("mock error")
	errBroadcast = errors.New("broadcast fail")

	// fastSeal keeps key stretching cheap in tests.
	fastSeal = seal.Params{Memory: 64, Iterations: 1, Parallelism: 1}

	// oneSatPerVByte is the fee rate most tests pay.
	oneSatPerVByte = btcunit.NewSatPerVByte(1)
)

// testRoot returns the master key of the zero entropy mnemonic.
func testRoot(t *testing.T) keychain.ExtendedKey {
	t.Helper()

	seed, err := keychain.SeedFromMnemonic(zeroMnemonic, "")
	require.NoError(t, err)

	root, err := keychain.MasterKeyFrom(seed)
	require.NoError(t, err)

	return root
}

// testEntry derives an address of account 0.
func testEntry(t *testing.T, branch keychain.Branch,
	index uint32) discovery.AddressEntry {

	t.Helper()

	path := keychain.BIP84Account(0)
	account, err := keychain.DerivePath(testRoot(t), path)
	require.NoError(t, err)

	branchKey, err := discovery.BranchKey(account, branch)
	require.NoError(t, err)

	entry, err := discovery.DeriveEntry(
		branchKey, path, branch, index, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	return entry
}

// testUTXO returns an unspent output of value paying to entry. b makes the
// outpoint unique.
func testUTXO(entry discovery.AddressEntry, value btcutil.Amount,
	confs int32, b byte) discovery.UTXO {

	return discovery.UTXO{
		OutPoint:      wire.OutPoint{Hash: chainhash.Hash{b}, Index: 0},
		Address:       entry.Address,
		PkScript:      entry.Script,
		Value:         value,
		Confirmations: confs,
		Entry:         entry,
	}
}

// pinnedVSize returns an estimator reporting withChange for two outputs and
// noChange for one.
func pinnedVSize(withChange, noChange uint64) VSizeEstimator {
	return func(_ int, outputs []*wire.TxOut) btcunit.VByte {
		if len(outputs) > 1 {
			return btcunit.NewVByte(withChange)
		}

		return btcunit.NewVByte(noChange)
	}
}

// mockSession is a mock implementation of the Session interface.
type mockSession struct {
	mock.Mock
}

// ScriptHashHistory implements Session.
func (m *mockSession) ScriptHashHistory(ctx context.Context,
	scripthash string) ([]electrum.HistoryItem, error) {

	args := m.Called(ctx, scripthash)
	items, _ := args.Get(0).([]electrum.HistoryItem)

	return items, args.Error(1)
}

// Transaction implements Session.
func (m *mockSession) Transaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	args := m.Called(ctx, txid)
	tx, _ := args.Get(0).(*wire.MsgTx)

	return tx, args.Error(1)
}

// HeadersSubscribe implements Session.
func (m *mockSession) HeadersSubscribe(
	ctx context.Context) (electrum.HeaderNotification, error) {

	args := m.Called(ctx)
	tip, _ := args.Get(0).(electrum.HeaderNotification)

	return tip, args.Error(1)
}

// Broadcast implements Session. A func(string) string return value computes
// the reply from the raw transaction.
func (m *mockSession) Broadcast(ctx context.Context, rawHex string) (string,
	error) {

	args := m.Called(ctx, rawHex)
	if reply, ok := args.Get(0).(func(string) string); ok {
		return reply(rawHex), args.Error(1)
	}

	return args.String(0), args.Error(1)
}

// Close implements Session.
func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

// mockBroadcaster is a mock implementation of the Broadcaster interface.
type mockBroadcaster struct {
	mock.Mock
}

// Broadcast implements Broadcaster.
func (m *mockBroadcaster) Broadcast(ctx context.Context,
	rawHex string) (string, error) {

	args := m.Called(ctx, rawHex)

	return args.String(0), args.Error(1)
}

// mockNetwork is a mock implementation of the Network interface.
type mockNetwork struct {
	mock.Mock
}

// Connect implements Network.
func (m *mockNetwork) Connect(ctx context.Context) (Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(Session)

	return s, args.Error(1)
}
