// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/btcsuite/lightwallet/pkg/btcunit"
	"github.com/btcsuite/lightwallet/wallet"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	errMissingCommand = errors.New("missing command")
	errUnknownCommand = errors.New("unknown command")
	errUsage          = errors.New("wrong number of arguments")
	errNoWallet       = errors.New("no wallet found, run create first")
	errPickWallet     = errors.New("several wallets exist, select one " +
		"with --wallet")
)

const commandUsage = `Commands:
  create [name]              create a wallet, --restore to import a mnemonic
  list                       list the stored wallets
  balance                    rescan and show the balance and history
  receive                    rescan and show the next receiving address
  send <address> <sats>      pay sats to address at --feerate
  zpub                       show the account extended public key
  trust                      ask the known servers for their tip and trust the
                             largest agreeing group
  delete <wallet>            delete a stored wallet`

// command is one action of the command line.
type command struct {
	minArgs int
	maxArgs int
	run     func(ctx context.Context, a *app, args []string) error
}

// commands maps command names to their implementation.
var commands = map[string]command{
	"create":  {maxArgs: 1, run: runCreate},
	"list":    {run: runList},
	"balance": {run: runBalance},
	"receive": {run: runReceive},
	"send":    {minArgs: 2, maxArgs: 2, run: runSend},
	"zpub":    {run: runZpub},
	"trust":   {run: runTrust},
	"delete":  {minArgs: 1, maxArgs: 1, run: runDelete},
}

// checkArgs validates the number of arguments passed to c.
func (c command) checkArgs(name string, args []string) error {
	if len(args) < c.minArgs || len(args) > c.maxArgs {
		return fmt.Errorf("%w: %s takes %d to %d, got %d", errUsage,
			name, c.minArgs, c.maxArgs, len(args))
	}

	return nil
}

func runCreate(ctx context.Context, a *app, args []string) error {
	name := "default"
	if len(args) == 1 {
		name = args[0]
	}

	var mnemonic string
	if a.cfg.Restore {
		var err error
		mnemonic, err = readSecret("Enter the mnemonic: ")
		if err != nil {
			return err
		}
	}

	passphrase, err := readNewPassphrase()
	if err != nil {
		return err
	}

	w, err := a.mgr.Create(ctx, name, mnemonic, passphrase)
	if err != nil {
		return err
	}

	fmt.Printf("Created wallet %v (%s)\n", w.ID(), w.Name())

	if !a.cfg.Restore {
		words, err := w.Mnemonic()
		if err != nil {
			return err
		}

		fmt.Println("Write down the mnemonic, it is the only backup " +
			"of the wallet:")
		fmt.Println(words)
	}

	return nil
}

func runList(ctx context.Context, a *app, _ []string) error {
	records, err := a.mgr.ListWallets(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tCREATED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%v\t%s\t%v\t%s\n", rec.ID, rec.Name,
			rec.ScriptType, rec.CreatedAt.Format("2006-01-02 15:04"))
	}

	return tw.Flush()
}

func runBalance(ctx context.Context, a *app, _ []string) error {
	w, err := openWallet(ctx, a)
	if err != nil {
		return err
	}

	res, err := w.Rescan(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Balance: %v at height %d\n", res.Balance, res.TipHeight)
	for _, entry := range res.Failed {
		fmt.Printf("warning: history of %s unavailable\n",
			entry.Address)
	}

	history, err := w.History()
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTXID\tHEIGHT\tKIND\tNET\tFEE")
	for _, s := range history {
		fee := "?"
		if s.FeeKnown {
			fee = s.Fee.String()
		}

		height := fmt.Sprint(s.Height)
		if s.Height <= 0 {
			height = "unconfirmed"
		}

		fmt.Fprintf(tw, "%v\t%s\t%v\t%v\t%s\n", s.TxID, height,
			s.Kind, s.Net, fee)
	}

	return tw.Flush()
}

func runReceive(ctx context.Context, a *app, _ []string) error {
	w, err := openWallet(ctx, a)
	if err != nil {
		return err
	}

	if _, err := w.Rescan(ctx); err != nil {
		return err
	}

	addr, err := w.NextReceiveAddress()
	if err != nil {
		return err
	}

	fmt.Println(addr)

	return nil
}

func runSend(ctx context.Context, a *app, args []string) error {
	amount, err := btcunit.ParseSats(args[1])
	if err != nil {
		return err
	}

	w, err := openWallet(ctx, a)
	if err != nil {
		return err
	}

	if _, err := w.Rescan(ctx); err != nil {
		return err
	}

	result, err := w.Send(ctx, wallet.SendRequest{
		Recipient: args[0],
		Amount:    amount,
		FeeRate:   a.cfg.feeRate,
		MinConfs:  fn.Some(a.cfg.MinConfs),
	})
	if err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("transaction %s rejected: %s", result.TxID,
			result.Error)
	}

	fmt.Println(result.TxID)

	return nil
}

func runZpub(ctx context.Context, a *app, _ []string) error {
	w, err := openWallet(ctx, a)
	if err != nil {
		return err
	}

	zpub, err := w.AccountZpub()
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", w.AccountPath(), zpub)

	return nil
}

func runTrust(ctx context.Context, a *app, _ []string) error {
	// Widen the candidate set with the peers one server knows about.
	conn, err := a.client.Connect(ctx)
	if err != nil {
		return err
	}
	learned, err := a.client.LearnPeers(ctx, conn)
	_ = conn.Close()
	if err != nil {
		log.Warnf("Unable to learn peers: %v", err)
	} else {
		log.Infof("Learned %d peers", len(learned))
	}

	trusted, height, err := a.client.EstablishTrust(ctx, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Trusting %d servers at height %d:\n", len(trusted), height)
	for _, peer := range trusted {
		fmt.Println(" ", peer)
	}

	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	id, err := findRecord(ctx, a, args[0])
	if err != nil {
		return err
	}

	if err := a.mgr.DeleteWallet(ctx, id); err != nil {
		return err
	}

	fmt.Printf("Deleted wallet %v\n", id)

	return nil
}

// openWallet opens the selected wallet and unlocks it with a prompted
// passphrase.
func openWallet(ctx context.Context, a *app) (*wallet.Wallet, error) {
	id, err := findRecord(ctx, a, a.cfg.WalletName)
	if err != nil {
		return nil, err
	}

	w, err := a.mgr.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	passphrase, err := readSecret(
		fmt.Sprintf("Passphrase of %q: ", w.Name()),
	)
	if err != nil {
		return nil, err
	}

	if err := w.Unlock(passphrase); err != nil {
		return nil, err
	}

	return w, nil
}

// findRecord resolves a wallet by id or name. An empty selector picks the
// only stored wallet.
func findRecord(ctx context.Context, a *app,
	selector string) (uuid.UUID, error) {

	records, err := a.mgr.ListWallets(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	switch {
	case len(records) == 0:
		return uuid.Nil, errNoWallet

	case selector == "" && len(records) == 1:
		return records[0].ID, nil

	case selector == "":
		return uuid.Nil, errPickWallet
	}

	for _, rec := range records {
		if rec.ID.String() == strings.ToLower(selector) ||
			rec.Name == selector {

			return rec.ID, nil
		}
	}

	return uuid.Nil, fmt.Errorf("%w: %q", wallet.ErrWalletNotFound,
		selector)
}
