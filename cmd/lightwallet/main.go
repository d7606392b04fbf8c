// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/btcsuite/lightwallet/electrum"
	"github.com/btcsuite/lightwallet/internal/seal"
	"github.com/btcsuite/lightwallet/kvstore"
	"github.com/btcsuite/lightwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
	"go.uber.org/ratelimit"
)

// appVersion is the version reported by --version.
const appVersion = "0.1.0"

// version returns the application version with the Go runtime it was built
// with.
func version() string {
	return fmt.Sprintf("%s (Go version %s %s/%s)", appVersion,
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func main() {
	if err := walletMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, args, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, commandUsage)
		return errMissingCommand
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintln(os.Stderr, commandUsage)
		return fmt.Errorf("%w: %q", errUnknownCommand, args[0])
	}
	if err := cmd.checkArgs(args[0], args[1:]); err != nil {
		return err
	}

	log.Debugf("Version %s, network %s", version(), cfg.params.Name)

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	return cmd.run(ctx, app, args[1:])
}

// app bundles the collaborators every command works with.
type app struct {
	cfg    *config
	store  *kvstore.DB
	client *electrum.Client
	mgr    *wallet.Manager
}

// newApp opens the store of the active network and wires the electrum client
// and the wallet manager on top of it.
func newApp(ctx context.Context, cfg *config) (*app, error) {
	store, err := kvstore.OpenDB(cfg.netDir(), defaultDBTimeout)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.NoServerCertCheck {
		log.Warnf("Server certificates are not verified")
		tlsConfig.InsecureSkipVerify = true //nolint:gosec
	}

	client, err := electrum.NewClient(ctx, electrum.Config{
		Bootstrap:   cfg.bootstrap,
		Store:       store,
		TLSConfig:   tlsConfig,
		Proxy:       cfg.Proxy,
		DialTimeout: cfg.DialTimeout,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit > 0 {
		limiter = ratelimit.New(cfg.RateLimit)
	}

	mgr, err := wallet.NewManager(wallet.Config{
		Store:        store,
		Network:      &wallet.ElectrumNetwork{Client: client},
		Params:       cfg.params,
		GapLimit:     cfg.GapLimit,
		ScanSessions: cfg.ScanSessions,
		Limiter:      limiter,
		SealParams:   fn.Some(seal.DefaultParams),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		store:  store,
		client: client,
		mgr:    mgr,
	}, nil
}

// close releases the store.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Errorf("Unable to close store: %v", err)
	}
}
