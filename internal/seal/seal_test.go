// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package seal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testParams keep the tests fast.
var testParams = Params{Memory: 64, Iterations: 1, Parallelism: 1}

// TestSealOpen checks the round trip and that sealing is randomized.
func TestSealOpen(t *testing.T) {
	t.Parallel()

	secret := []byte("abandon abandon about")
	pass := []byte("correct horse")

	a, err := Seal(secret, pass, testParams)
	require.NoError(t, err)

	b, err := Seal(secret, pass, testParams)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	got, err := Open(a, pass)
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

// TestOpenFailures checks the rejection paths.
func TestOpenFailures(t *testing.T) {
	t.Parallel()

	pass := []byte("pass")
	sealed, err := Seal([]byte("secret"), pass, testParams)
	require.NoError(t, err)

	flip := func(i int) []byte {
		c := append([]byte(nil), sealed...)
		c[i] ^= 0x01
		return c
	}

	testCases := []struct {
		name    string
		blob    []byte
		pass    []byte
		wantErr error
	}{{
		name:    "wrong passphrase",
		blob:    sealed,
		pass:    []byte("Pass"),
		wantErr: ErrWrongPassphrase,
	}, {
		name:    "truncated",
		blob:    sealed[:headerSize+10],
		pass:    pass,
		wantErr: ErrMalformed,
	}, {
		name:    "flipped ciphertext",
		blob:    flip(len(sealed) - 1),
		pass:    pass,
		wantErr: ErrWrongPassphrase,
	}, {
		name:    "flipped salt",
		blob:    flip(0),
		pass:    pass,
		wantErr: ErrWrongPassphrase,
	}, {
		// Iterations 1 becomes 0.
		name:    "zero iterations",
		blob:    flip(SaltSize + 4),
		pass:    pass,
		wantErr: ErrMalformed,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Open(tc.blob, tc.pass)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

// TestSealRejects checks argument validation.
func TestSealRejects(t *testing.T) {
	t.Parallel()

	_, err := Seal([]byte("x"), nil, testParams)
	require.ErrorIs(t, err, ErrEmptyPassphrase)

	_, err = Seal([]byte("x"), []byte("p"), Params{})
	require.ErrorIs(t, err, ErrMalformed)
}
