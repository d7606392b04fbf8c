// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/lightwallet/discovery"
	"github.com/btcsuite/lightwallet/electrum"
	"github.com/btcsuite/lightwallet/pkg/btcunit"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "lightwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "lightwallet.log"
	defaultNetwork        = "mainnet"
	defaultFeeRate        = "2"
	defaultScanSessions   = 4
	defaultDBTimeout      = 10 * time.Second
)

var (
	defaultAppDataDir = btcutil.AppDataDir("lightwallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)

	// errMissingPeers is returned for networks without bootstrap peers
	// when no --peer is given.
	errMissingPeers = errors.New("no bootstrap peers for network, use " +
		"--peer")
)

// netParams maps the accepted --network values to their parameters.
var netParams = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"signet":   &chaincfg.SigNetParams,
	"regtest":  &chaincfg.RegressionNetParams,
}

type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir  string `short:"A" long:"appdata" description:"Application data directory for wallet records and logs"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Network     string `long:"network" description:"Bitcoin network to use" choice:"mainnet" choice:"testnet3" choice:"signet" choice:"regtest"`
	WalletName  string `short:"w" long:"wallet" description:"Name or id of the wallet to use when more than one exists"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`

	// Wallet behavior
	GapLimit     uint32 `long:"gaplimit" description:"Number of consecutive unused addresses scanned before a branch is considered exhausted"`
	FeeRate      string `long:"feerate" description:"Fee rate in sat/vbyte paid by send"`
	MinConfs     int32  `long:"minconf" description:"Minimum confirmations of the coins spent by send"`
	ScanSessions int    `long:"scansessions" description:"Number of server connections a rescan queries in parallel"`
	RateLimit    int    `long:"ratelimit" description:"Maximum number of scan requests per second, 0 for unlimited"`
	Restore      bool   `long:"restore" description:"Prompt for an existing mnemonic when running create"`

	// Electrum options
	Peers             []string      `long:"peer" description:"Electrum server host[:port] to bootstrap from, may be repeated"`
	Proxy             string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	DialTimeout       time.Duration `long:"dialtimeout" description:"Timeout for connecting to a server, including the TLS and protocol handshakes"`
	CallTimeout       time.Duration `long:"calltimeout" description:"Timeout for a single server call"`
	NoServerCertCheck bool          `long:"noservercertcheck" description:"Do not verify the TLS certificates of the servers"`

	params    *chaincfg.Params
	feeRate   btcunit.SatPerVByte
	bootstrap []electrum.Peer
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string

		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// netDir returns the directory holding the data of the active network.
func (c *config) netDir() string {
	return filepath.Join(c.AppDataDir, c.params.Name)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in lightwallet functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence. The remaining arguments name the command to run.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:   defaultConfigFile,
		AppDataDir:   defaultAppDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		Network:      defaultNetwork,
		GapLimit:     discovery.DefaultGapLimit,
		FeeRate:      defaultFeeRate,
		MinConfs:     1,
		ScanSessions: defaultScanSessions,
		DialTimeout:  electrum.DefaultDialTimeout,
		CallTimeout:  electrum.DefaultCallTimeout,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, commandUsage)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := cleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)

			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}

		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	cfg.AppDataDir = cleanAndExpandPath(cfg.AppDataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.params = netParams[cfg.Network]

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	logFile := filepath.Join(cfg.LogDir, cfg.params.Name, defaultLogFilename)
	if err := initLogRotator(logFile); err != nil {
		return nil, nil, err
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %w", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)

		return nil, nil, err
	}

	if cfg.GapLimit == 0 {
		str := "%s: the gap limit must be positive"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)

		return nil, nil, err
	}

	cfg.feeRate, err = btcunit.ParseSatPerVByte(cfg.FeeRate)
	if err != nil {
		err := fmt.Errorf("%s: %w", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)

		return nil, nil, err
	}

	for _, p := range cfg.Peers {
		peer, err := electrum.ParsePeer(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", funcName, err)
		}
		cfg.bootstrap = append(cfg.bootstrap, peer)
	}
	if len(cfg.bootstrap) == 0 && cfg.params != &chaincfg.MainNetParams {
		return nil, nil, fmt.Errorf("%s: %w", funcName, errMissingPeers)
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
