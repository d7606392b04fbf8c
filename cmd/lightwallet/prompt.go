// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// errPassphraseMismatch is returned when the confirmation differs.
var errPassphraseMismatch = errors.New("passphrases do not match")

// stdinReader serves prompts when stdin is not a terminal.
var stdinReader = bufio.NewReader(os.Stdin)

// readSecret prints prompt to stderr and reads one line without echo. Input
// piped from a non-terminal is read as a plain line.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinReader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}

		return strings.TrimRight(line, "\r\n"), nil
	}

	secret, err := term.ReadPassword(fd)

	// Newline after the hidden input.
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(secret), nil
}

// readNewPassphrase asks for a passphrase twice.
func readNewPassphrase() (string, error) {
	pass, err := readSecret("Enter the passphrase sealing the wallet: ")
	if err != nil {
		return "", err
	}

	confirm, err := readSecret("Confirm passphrase: ")
	if err != nil {
		return "", err
	}

	if pass != confirm {
		return "", errPassphraseMismatch
	}

	return pass, nil
}
