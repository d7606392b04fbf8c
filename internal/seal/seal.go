// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package seal encrypts small secrets, such as a wallet mnemonic, under a
// passphrase.
//
// A sealed blob is laid out as
//
//	salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ct
//
// with little endian integers. The key is stretched with Argon2id and the
// secret is encrypted with XChaCha20-Poly1305. The header up to the nonce is
// authenticated as additional data, so tampering with the stretching
// parameters is detected like any other corruption.
package seal

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SaltSize is the length of the random Argon2id salt.
	SaltSize = 32

	// headerSize covers the salt and the stretching parameters.
	headerSize = SaltSize + 4 + 4 + 1

	// maxMemory caps the memory a sealed blob may ask for, in KiB.
	maxMemory = 4 * 1024 * 1024
)

var (
	// ErrMalformed is returned for blobs too short or with impossible
	// parameters.
	ErrMalformed = errors.New("malformed sealed data")

	// ErrWrongPassphrase is returned when authentication fails. A wrong
	// passphrase and a corrupted blob are indistinguishable.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

	// ErrEmptyPassphrase is returned when sealing under an empty
	// passphrase.
	ErrEmptyPassphrase = errors.New("empty passphrase")
)

// Params are the Argon2id stretching parameters.
type Params struct {
	// Memory is in KiB.
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams are the parameters used for new wallets.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 4,
}

// validate rejects parameters argon2 cannot run with or that would exhaust
// memory.
func (p Params) validate() error {
	if p.Memory == 0 || p.Memory > maxMemory || p.Iterations == 0 ||
		p.Parallelism == 0 {

		return fmt.Errorf("%w: memory=%d iterations=%d parallelism=%d",
			ErrMalformed, p.Memory, p.Iterations, p.Parallelism)
	}

	return nil
}

// deriveKey stretches passphrase into an XChaCha20-Poly1305 key.
func deriveKey(passphrase, salt []byte, p Params) []byte {
	return argon2.IDKey(
		passphrase, salt, p.Iterations, p.Memory, p.Parallelism,
		chacha20poly1305.KeySize,
	)
}

// zero wipes b.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Seal encrypts secret under passphrase.
func Seal(secret, passphrase []byte, p Params) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	header := make([]byte, SaltSize, headerSize)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	header = binary.LittleEndian.AppendUint32(header, p.Memory)
	header = binary.LittleEndian.AppendUint32(header, p.Iterations)
	header = append(header, p.Parallelism)

	key := deriveKey(passphrase, header[:SaltSize], p)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, headerSize+len(nonce)+len(secret)+
		aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)

	return aead.Seal(out, nonce, secret, header), nil
}

// Open decrypts a blob produced by Seal.
func Open(sealed, passphrase []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if len(sealed) < headerSize+nonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed,
			len(sealed))
	}

	header := sealed[:headerSize]
	p := Params{
		Memory:      binary.LittleEndian.Uint32(header[SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[SaltSize+4:]),
		Parallelism: header[SaltSize+8],
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	nonce := sealed[headerSize : headerSize+nonceSize]
	ciphertext := sealed[headerSize+nonceSize:]

	key := deriveKey(passphrase, header[:SaltSize], p)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	secret, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	return secret, nil
}
