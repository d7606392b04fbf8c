// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/lightwallet/electrum"
	"github.com/btcsuite/lightwallet/keychain"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGapLimit is the number of consecutive unused addresses after
	// which a branch is considered exhausted.
	DefaultGapLimit = 20

	// DefaultMaxFailures is the number of consecutive failed history
	// fetches after which a branch scan gives up.
	DefaultMaxFailures = 10
)

var (
	// ErrNoSources is returned when a scanner has nothing to query.
	ErrNoSources = errors.New("no history sources")

	// ErrInvalidGapLimit is returned for a gap limit of zero.
	ErrInvalidGapLimit = errors.New("gap limit must be positive")

	// ErrTooManyFailures is returned when a branch keeps failing to fetch
	// history. Failed fetches do not move the gap counter, so without a
	// bound an unreachable server would stall the scan forever.
	ErrTooManyFailures = errors.New("too many consecutive fetch failures")
)

// Source is a remote index that can answer history queries. *electrum.Conn
// satisfies it. A Source is used by one goroutine at a time.
type Source interface {
	// ScriptHashHistory returns the transactions touching scripthash.
	ScriptHashHistory(ctx context.Context,
		scripthash string) ([]electrum.HistoryItem, error)

	// Transaction fetches a raw transaction by id.
	Transaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx,
		error)

	// HeadersSubscribe returns the current chain tip.
	HeadersSubscribe(ctx context.Context) (electrum.HeaderNotification,
		error)
}

var _ Source = (*electrum.Conn)(nil)

// Config holds the collaborators of a Scanner.
type Config struct {
	// Sources are queried concurrently, one worker per source. A batch
	// is at most len(Sources) wide.
	Sources []Source

	// Params selects the address encoding.
	Params *chaincfg.Params

	// Limiter paces every remote request. Nil means unlimited.
	Limiter ratelimit.Limiter

	// MaxFailures bounds consecutive failed history fetches per branch.
	// Zero selects DefaultMaxFailures.
	MaxFailures int

	// Cache receives every completed scan. Nil creates a private cache.
	Cache *Cache
}

// TxHistoryEntry is the outcome of scanning one address index on both
// branches. An address left empty was not reached on its branch.
type TxHistoryEntry struct {
	Address       string
	ChangeAddress string
	PathIndex     uint32

	// Transactions lists the ids touching either address, receiving
	// side first, without duplicates.
	Transactions []chainhash.Hash
}

// ScanResult is a complete view of the wallet at one tip.
type ScanResult struct {
	Entries      []TxHistoryEntry
	Addresses    *AddressIndex
	Transactions map[chainhash.Hash]*WalletTx
	UTXOs        []UTXO
	Balance      btcutil.Amount
	TipHeight    int32
	GapLimit     uint32

	// NextReceiveIndex and NextChangeIndex are one past the last used
	// index of their branch.
	NextReceiveIndex uint32
	NextChangeIndex  uint32

	// Failed lists the addresses whose history could not be fetched.
	Failed []AddressEntry

	// FailedTxs lists the transactions that could not be fetched. Their
	// outputs are missing from UTXOs.
	FailedTxs []chainhash.Hash
}

// Spendable returns the unspent outputs with at least minConfs
// confirmations.
func (r *ScanResult) Spendable(minConfs int32) []UTXO {
	return Spendable(r.UTXOs, minConfs)
}

// Summaries classifies every transaction of the result.
func (r *ScanResult) Summaries() []TxSummary {
	return Classify(r.Transactions, r.Addresses, r.FailedTxs)
}

// Scanner discovers the on-chain history of a BIP84 account.
type Scanner struct {
	cfg   Config
	cache *Cache
}

// NewScanner creates a scanner.
func NewScanner(cfg Config) (*Scanner, error) {
	if len(cfg.Sources) == 0 {
		return nil, ErrNoSources
	}
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewUnlimited()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}

	cache := cfg.Cache
	if cache == nil {
		cache = &Cache{}
	}

	return &Scanner{cfg: cfg, cache: cache}, nil
}

// Cache returns the cache holding the latest completed scan.
func (s *Scanner) Cache() *Cache {
	return s.cache
}

// branchScan is the outcome of walking one branch.
type branchScan struct {
	entries  []AddressEntry
	history  [][]electrum.HistoryItem
	failed   []AddressEntry
	nextUsed uint32
}

// fetchResult is the outcome of one history query.
type fetchResult struct {
	entry   AddressEntry
	history []electrum.HistoryItem
	err     error
}

// Scan walks the receiving and change branches of the account at accountPath
// below root until gapLimit consecutive unused addresses are seen on each,
// then fetches every referenced transaction and the tip. The result replaces
// the cached one.
func (s *Scanner) Scan(ctx context.Context, root keychain.ExtendedKey,
	accountPath keychain.DerivationPath,
	gapLimit uint32) (*ScanResult, error) {

	if gapLimit == 0 {
		return nil, ErrInvalidGapLimit
	}

	account, err := keychain.DerivePath(root, accountPath)
	if err != nil {
		return nil, fmt.Errorf("derive account %v: %w", accountPath, err)
	}

	branches := []keychain.Branch{
		keychain.ExternalBranch, keychain.InternalBranch,
	}
	scans := make([]*branchScan, len(branches))
	for i, branch := range branches {
		scans[i], err = s.scanBranch(
			ctx, account, accountPath, branch, gapLimit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan %v branch: %w", branch, err)
		}
	}

	result := &ScanResult{
		GapLimit:         gapLimit,
		NextReceiveIndex: scans[0].nextUsed,
		NextChangeIndex:  scans[1].nextUsed,
	}

	var all []AddressEntry
	heights := make(map[chainhash.Hash]int32)
	for _, scan := range scans {
		all = append(all, scan.entries...)
		result.Failed = append(result.Failed, scan.failed...)

		for _, history := range scan.history {
			for _, item := range history {
				txid, err := chainhash.NewHashFromStr(item.TxHash)
				if err != nil {
					return nil, fmt.Errorf("history txid "+
						"%q: %w", item.TxHash, err)
				}
				heights[*txid] = item.Height
			}
		}
	}
	result.Addresses = NewAddressIndex(all...)
	result.Entries = historyEntries(scans[0], scans[1])

	tip, err := s.tip(ctx)
	if err != nil {
		return nil, err
	}
	result.TipHeight = tip

	result.Transactions, result.FailedTxs = s.fetchTransactions(
		ctx, heights,
	)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.UTXOs = ComputeUTXOs(result.Transactions, result.Addresses, tip)
	result.Balance = Balance(result.UTXOs)

	log.Infof("Scanned %d addresses, %d transactions, balance %v at "+
		"height %d", result.Addresses.Len(), len(result.Transactions),
		result.Balance, tip)

	s.cache.Store(result)

	return result, nil
}

// scanBranch walks one branch. Queries are dispatched in batches of at most
// one per source, and never more than could still end the branch, so the
// branch issues exactly gapLimit queries past its last used index.
func (s *Scanner) scanBranch(ctx context.Context, account keychain.ExtendedKey,
	accountPath keychain.DerivationPath, branch keychain.Branch,
	gapLimit uint32) (*branchScan, error) {

	branchKey, err := BranchKey(account, branch)
	if err != nil {
		return nil, err
	}

	var (
		scan     = &branchScan{}
		empty    uint32
		failures int
		next     uint32
	)
	for empty < gapLimit {
		width := min(uint32(len(s.cfg.Sources)), gapLimit-empty)

		batch := make([]fetchResult, width)
		for i := range batch {
			entry, err := DeriveEntry(
				branchKey, accountPath, branch, next+uint32(i),
				s.cfg.Params,
			)
			if err != nil {
				return nil, err
			}
			batch[i].entry = entry
		}

		var eg errgroup.Group
		for i := range batch {
			src := s.cfg.Sources[i]
			eg.Go(func() error {
				s.cfg.Limiter.Take()
				batch[i].history, batch[i].err = src.ScriptHashHistory(
					ctx, batch[i].entry.ScriptHash,
				)

				return nil
			})
		}
		_ = eg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, r := range batch {
			if r.err != nil {
				log.Warnf("History of %s (%v/%d) unavailable: %v",
					r.entry.Address, branch, r.entry.Index, r.err)

				scan.failed = append(scan.failed, r.entry)
				failures++
				if failures >= s.cfg.MaxFailures {
					return nil, fmt.Errorf("%w: last %w",
						ErrTooManyFailures, r.err)
				}

				scan.entries = append(scan.entries, r.entry)
				scan.history = append(scan.history, nil)

				continue
			}
			failures = 0

			if len(r.history) > 0 {
				r.entry.Used = true
				empty = 0
				scan.nextUsed = r.entry.Index + 1
			} else {
				empty++
			}

			scan.entries = append(scan.entries, r.entry)
			scan.history = append(scan.history, r.history)
		}

		next += width
	}

	log.Debugf("Branch %v exhausted after %d addresses, next unused %d",
		branch, next, scan.nextUsed)

	return scan, nil
}

// historyEntries pairs the receiving and change scans index by index.
func historyEntries(recv, change *branchScan) []TxHistoryEntry {
	n := max(len(recv.entries), len(change.entries))
	entries := make([]TxHistoryEntry, n)
	for i := range entries {
		entry := &entries[i]
		entry.PathIndex = uint32(i)

		seen := make(map[chainhash.Hash]struct{})
		add := func(history []electrum.HistoryItem) {
			for _, item := range history {
				txid, err := chainhash.NewHashFromStr(item.TxHash)
				if err != nil {
					continue
				}
				if _, ok := seen[*txid]; ok {
					continue
				}
				seen[*txid] = struct{}{}
				entry.Transactions = append(
					entry.Transactions, *txid,
				)
			}
		}

		if i < len(recv.entries) {
			entry.Address = recv.entries[i].Address
			add(recv.history[i])
		}
		if i < len(change.entries) {
			entry.ChangeAddress = change.entries[i].Address
			add(change.history[i])
		}
	}

	return entries
}

// tip asks the sources in order for the chain tip.
func (s *Scanner) tip(ctx context.Context) (int32, error) {
	var errs []error
	for _, src := range s.cfg.Sources {
		s.cfg.Limiter.Take()

		tip, err := src.HeadersSubscribe(ctx)
		if err == nil {
			return tip.Height, nil
		}
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}

	return 0, fmt.Errorf("fetch tip: %w", errors.Join(errs...))
}

// fetchTransactions downloads every transaction in heights with one worker
// per source. Failures are logged and reported, never fatal.
func (s *Scanner) fetchTransactions(ctx context.Context,
	heights map[chainhash.Hash]int32) (map[chainhash.Hash]*WalletTx,
	[]chainhash.Hash) {

	var (
		mtx    sync.Mutex
		txs    = make(map[chainhash.Hash]*WalletTx, len(heights))
		failed []chainhash.Hash
	)

	work := make(chan chainhash.Hash)

	var eg errgroup.Group
	for _, src := range s.cfg.Sources {
		eg.Go(func() error {
			for txid := range work {
				s.cfg.Limiter.Take()

				tx, err := src.Transaction(ctx, txid)

				mtx.Lock()
				if err != nil {
					log.Warnf("Transaction %v unavailable: %v",
						txid, err)
					failed = append(failed, txid)
				} else {
					txs[txid] = &WalletTx{
						Tx:     tx,
						Height: heights[txid],
					}
				}
				mtx.Unlock()
			}

			return nil
		})
	}

	for _, txid := range sortedHashes(heights) {
		work <- txid
	}
	close(work)
	_ = eg.Wait()

	return txs, failed
}
