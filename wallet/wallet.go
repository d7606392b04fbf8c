// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/lightwallet/address"
	"github.com/btcsuite/lightwallet/discovery"
	"github.com/btcsuite/lightwallet/electrum"
	"github.com/btcsuite/lightwallet/internal/seal"
	"github.com/btcsuite/lightwallet/keychain"
	"github.com/btcsuite/lightwallet/kvstore"
	"github.com/btcsuite/lightwallet/pkg/btcunit"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"go.uber.org/ratelimit"
)

var (
	// ErrLocked is returned by operations needing keys while the wallet
	// is locked.
	ErrLocked = errors.New("wallet is locked")

	// ErrNotScanned is returned by operations needing a scan result
	// before the first rescan.
	ErrNotScanned = errors.New("wallet has not been scanned")

	// ErrMissingStore is returned when a Manager is created without a
	// store.
	ErrMissingStore = errors.New("missing store")

	// ErrMissingNetwork is returned by network operations of a Manager
	// created without a network.
	ErrMissingNetwork = errors.New("missing network")
)

// Session is one connection to the indexing service.
type Session interface {
	discovery.Source
	Broadcaster

	// Close releases the connection.
	Close() error
}

// Network opens sessions with the indexing service.
type Network interface {
	// Connect opens a new session.
	Connect(ctx context.Context) (Session, error)
}

// ElectrumNetwork opens sessions through an electrum.Client.
type ElectrumNetwork struct {
	Client *electrum.Client
}

// Connect implements Network.
func (n *ElectrumNetwork) Connect(ctx context.Context) (Session, error) {
	conn, err := n.Client.Connect(ctx)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Config holds the collaborators shared by every wallet of a Manager.
type Config struct {
	// Store persists wallet records.
	Store kvstore.Store

	// Network reaches the indexing service.
	Network Network

	// Params selects the network. Nil means mainnet.
	Params *chaincfg.Params

	// GapLimit overrides discovery.DefaultGapLimit.
	GapLimit uint32

	// ScanSessions is the number of connections a rescan queries in
	// parallel. Zero means one.
	ScanSessions int

	// Limiter paces scan requests. Nil means unlimited.
	Limiter ratelimit.Limiter

	// SealParams overrides seal.DefaultParams.
	SealParams fn.Option[seal.Params]
}

// Manager creates, opens and deletes wallets.
type Manager struct {
	cfg     Config
	records recordStore
}

// NewManager creates a wallet manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}
	if cfg.GapLimit == 0 {
		cfg.GapLimit = discovery.DefaultGapLimit
	}
	if cfg.ScanSessions <= 0 {
		cfg.ScanSessions = 1
	}

	return &Manager{
		cfg:     cfg,
		records: recordStore{store: cfg.Store},
	}, nil
}

// Create stores a new wallet and returns it unlocked. An empty mnemonic
// generates a fresh 12 word one. The mnemonic is sealed under passphrase.
func (m *Manager) Create(ctx context.Context, name, mnemonic,
	passphrase string) (*Wallet, error) {

	if mnemonic == "" {
		var err error
		mnemonic, err = keychain.NewMnemonic(keychain.DefaultEntropyBits)
		if err != nil {
			return nil, err
		}
	}
	mnemonic = keychain.NormalizeMnemonic(mnemonic)
	if err := keychain.ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	sealed, err := seal.Seal(
		[]byte(mnemonic), []byte(passphrase),
		m.cfg.SealParams.UnwrapOr(seal.DefaultParams),
	)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:             uuid.New(),
		Name:           name,
		SealedMnemonic: sealed,
		ScriptType:     address.P2WPKH,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.records.put(ctx, rec); err != nil {
		return nil, err
	}

	log.Infof("Created wallet %v (%q)", rec.ID, rec.Name)

	w := m.newWallet(rec)
	if err := w.unlockMnemonic(mnemonic); err != nil {
		return nil, err
	}

	return w, nil
}

// Open loads a stored wallet. The wallet starts locked.
func (m *Manager) Open(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	rec, err := m.records.get(ctx, id)
	if err != nil {
		return nil, err
	}

	return m.newWallet(rec), nil
}

// ListWallets returns every stored wallet in creation order.
func (m *Manager) ListWallets(ctx context.Context) ([]*Record, error) {
	return m.records.list(ctx)
}

// DeleteWallet removes a stored wallet.
func (m *Manager) DeleteWallet(ctx context.Context, id uuid.UUID) error {
	if err := m.records.remove(ctx, id); err != nil {
		return err
	}

	log.Infof("Deleted wallet %v", id)

	return nil
}

// newWallet wraps rec.
func (m *Manager) newWallet(rec *Record) *Wallet {
	return &Wallet{
		cfg:   m.cfg,
		rec:   rec,
		cache: &discovery.Cache{},
	}
}

// Wallet is a single BIP84 account backed by a sealed mnemonic.
type Wallet struct {
	cfg   Config
	rec   *Record
	cache *discovery.Cache

	mtx      sync.Mutex
	mnemonic string
	root     fn.Option[keychain.ExtendedKey]
}

// ID returns the wallet id.
func (w *Wallet) ID() uuid.UUID {
	return w.rec.ID
}

// Name returns the wallet name.
func (w *Wallet) Name() string {
	return w.rec.Name
}

// AccountPath returns the derivation path of the wallet account.
func (w *Wallet) AccountPath() keychain.DerivationPath {
	return keychain.BIP84Account(w.rec.Account)
}

// Unlock opens the sealed mnemonic with passphrase.
func (w *Wallet) Unlock(passphrase string) error {
	mnemonic, err := seal.Open(w.rec.SealedMnemonic, []byte(passphrase))
	if err != nil {
		return err
	}

	return w.unlockMnemonic(string(mnemonic))
}

// unlockMnemonic derives the master key of mnemonic and keeps it.
func (w *Wallet) unlockMnemonic(mnemonic string) error {
	seed, err := keychain.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}

	root, err := keychain.MasterKeyFrom(seed)
	if err != nil {
		return err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.mnemonic = mnemonic
	w.root = fn.Some(root)

	return nil
}

// Lock forgets the key material.
func (w *Wallet) Lock() {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.mnemonic = ""
	w.root = fn.None[keychain.ExtendedKey]()
}

// IsLocked reports whether the wallet is locked.
func (w *Wallet) IsLocked() bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.root.IsNone()
}

// Mnemonic returns the backup phrase of an unlocked wallet.
func (w *Wallet) Mnemonic() (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.root.IsNone() {
		return "", ErrLocked
	}

	return w.mnemonic, nil
}

// rootKey returns the master key of an unlocked wallet.
func (w *Wallet) rootKey() (keychain.ExtendedKey, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.root.UnwrapOrErr(ErrLocked)
}

// AccountZpub exports the account public key in zpub notation.
func (w *Wallet) AccountZpub() (string, error) {
	root, err := w.rootKey()
	if err != nil {
		return "", err
	}

	account, err := keychain.DerivePath(root, w.AccountPath())
	if err != nil {
		return "", err
	}

	return account.NeuteredString(keychain.ZpubVersion)
}

// Rescan discovers the wallet history and replaces the cached result.
func (w *Wallet) Rescan(ctx context.Context) (*discovery.ScanResult, error) {
	root, err := w.rootKey()
	if err != nil {
		return nil, err
	}
	if w.cfg.Network == nil {
		return nil, ErrMissingNetwork
	}

	var sessions []Session
	defer func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}()

	for range w.cfg.ScanSessions {
		s, err := w.cfg.Network.Connect(ctx)
		if err != nil {
			// Fewer sessions only slow the scan down.
			if len(sessions) > 0 {
				log.Warnf("Scanning with %d of %d sessions: %v",
					len(sessions), w.cfg.ScanSessions, err)
				break
			}

			return nil, err
		}
		sessions = append(sessions, s)
	}

	sources := make([]discovery.Source, len(sessions))
	for i, s := range sessions {
		sources[i] = s
	}

	scanner, err := discovery.NewScanner(discovery.Config{
		Sources: sources,
		Params:  w.cfg.Params,
		Limiter: w.cfg.Limiter,
		Cache:   w.cache,
	})
	if err != nil {
		return nil, err
	}

	return scanner.Scan(ctx, root, w.AccountPath(), w.cfg.GapLimit)
}

// lastScan returns the cached scan result.
func (w *Wallet) lastScan() (*discovery.ScanResult, error) {
	res := w.cache.Load()
	if res == nil {
		return nil, ErrNotScanned
	}

	return res, nil
}

// Balance returns the balance of the last scan.
func (w *Wallet) Balance() (btcutil.Amount, error) {
	res, err := w.lastScan()
	if err != nil {
		return 0, err
	}

	return res.Balance, nil
}

// History returns the transactions of the last scan, newest first.
func (w *Wallet) History() ([]discovery.TxSummary, error) {
	res, err := w.lastScan()
	if err != nil {
		return nil, err
	}

	return res.Summaries(), nil
}

// NextReceiveAddress returns the first receiving address after the last used
// one.
func (w *Wallet) NextReceiveAddress() (string, error) {
	res, err := w.lastScan()
	if err != nil {
		return "", err
	}

	entry, err := w.deriveEntry(
		keychain.ExternalBranch, res.NextReceiveIndex,
	)
	if err != nil {
		return "", err
	}

	return entry.Address, nil
}

// deriveEntry derives one address of the wallet account.
func (w *Wallet) deriveEntry(branch keychain.Branch,
	index uint32) (discovery.AddressEntry, error) {

	root, err := w.rootKey()
	if err != nil {
		return discovery.AddressEntry{}, err
	}

	account, err := keychain.DerivePath(root, w.AccountPath())
	if err != nil {
		return discovery.AddressEntry{}, err
	}

	branchKey, err := discovery.BranchKey(account, branch)
	if err != nil {
		return discovery.AddressEntry{}, err
	}

	return discovery.DeriveEntry(
		branchKey, w.AccountPath(), branch, index, w.cfg.Params,
	)
}

// SendRequest describes a payment from the wallet.
type SendRequest struct {
	Recipient string
	Amount    btcutil.Amount
	FeeRate   btcunit.SatPerVByte
	MinConfs  fn.Option[int32]
}

// CreateTransaction builds an unsigned payment over the UTXOs of the last
// scan, sending change to the first unused change address.
func (w *Wallet) CreateTransaction(req SendRequest) (*UnsignedTx, error) {
	res, err := w.lastScan()
	if err != nil {
		return nil, err
	}

	change, err := w.deriveEntry(
		keychain.InternalBranch, res.NextChangeIndex,
	)
	if err != nil {
		return nil, err
	}

	return BuildTransaction(&BuildRequest{
		Recipient:     req.Recipient,
		Amount:        req.Amount,
		FeeRate:       req.FeeRate,
		UTXOs:         res.UTXOs,
		ChangeAddress: change.Address,
		MinConfs:      req.MinConfs,
		Params:        w.cfg.Params,
	})
}

// Sign signs unsigned with the wallet keys, resolving inputs through the
// address index of the last scan.
func (w *Wallet) Sign(unsigned *UnsignedTx) (*SignedTx, error) {
	root, err := w.rootKey()
	if err != nil {
		return nil, err
	}

	var (
		index  *discovery.AddressIndex
		window = w.cfg.GapLimit
	)
	if res := w.cache.Load(); res != nil {
		index = res.Addresses
		window = max(window, res.NextReceiveIndex+w.cfg.GapLimit,
			res.NextChangeIndex+w.cfg.GapLimit)
	}

	signer := NewSigner(root, w.rec.Account, index, window, w.cfg.Params)

	return signer.Sign(unsigned)
}

// Send builds, signs and broadcasts a payment.
func (w *Wallet) Send(ctx context.Context,
	req SendRequest) (*BroadcastResult, error) {

	if w.cfg.Network == nil {
		return nil, ErrMissingNetwork
	}

	unsigned, err := w.CreateTransaction(req)
	if err != nil {
		return nil, err
	}

	signed, err := w.Sign(unsigned)
	if err != nil {
		return nil, err
	}

	// The transaction must survive its round trip before a connection
	// is opened.
	if _, err := preflight(signed.Tx); err != nil {
		return nil, err
	}

	session, err := w.cfg.Network.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	return SendTransaction(ctx, session, signed)
}
