// errors_test.go: Tests that key-level failures carry a package sentinel.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/rsa"
	"errors"
	"math/big"
	"testing"

	goerrors "github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyErrorsCarrySentinels(t *testing.T) {
	// 512-bit modulus leaves no room for an OAEP-SHA256 block
	tinyRSA := newRSAPublicKey(&rsa.PublicKey{N: new(big.Int).Lsh(big.NewInt(1), 511), E: 65537})

	mldsa, err := GenerateKey(KeyTypeMLDSA65Priv, 0)
	require.NoError(t, err)
	mldsa.Destroy()

	mlkem, err := GenerateKey(KeyTypeMLKEM768Priv, 0)
	require.NoError(t, err)
	mlkem.Destroy()

	tests := []struct {
		name     string
		call     func() error
		sentinel error
		code     goerrors.ErrorCode
	}{
		{"AES key length", func() error {
			_, err := newAESKey(make([]byte, 5))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"XChaCha20 key length", func() error {
			_, err := newXChaChaKey(make([]byte, 16))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"HMAC key length", func() error {
			_, err := newHMACKey(make([]byte, 8))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"ECDSA curve size", func() error {
			_, err := curveForSize(521)
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"ML-KEM public key length", func() error {
			_, err := newMLKEMPublicKey(make([]byte, 10))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"ML-DSA public key length", func() error {
			_, err := newMLDSAPublicKey(make([]byte, 10))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"RSA modulus too small", func() error {
			_, err := tinyRSA.Encrypt(nil, []byte("x"))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"destroyed ML-DSA key", func() error {
			_, err := mldsa.(Signable).Sign([]byte("x"))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"destroyed ML-KEM key", func() error {
			_, err := mlkem.(Decryptable).Decrypt(nil, make([]byte, 2048))
			return err
		}, ErrInvalidKeyType, ErrCodeInvalidKeyType},
		{"parse malformed PKCS#8", func() error {
			_, err := ParseKey(KeyTypeRSAPriv, []byte(`{"pkcs8":"","size":2048}`))
			return err
		}, ErrInvalidKeySet, ErrCodeSerialization},
		{"KDF empty salt", func() error {
			_, err := DeriveKey([]byte("pw"), nil, 32, nil)
			return err
		}, ErrKeyGeneration, ErrCodeKeyGeneration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.True(t, isKeyczarError(err))
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}
}

func TestSentinelWrappingKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := wrapError(ErrWriterFailed, cause, ErrCodeWriter, "commit failed")
	assert.ErrorIs(t, err, ErrWriterFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, goerrors.ErrorCode(ErrCodeWriter), ErrorCode(err))

	err = newError(ErrShortInput, ErrCodeShortInput, "too short")
	assert.ErrorIs(t, err, ErrShortInput)
	assert.False(t, errors.Is(err, ErrWriterFailed))

	assert.Empty(t, ErrorCode(cause))
	assert.Empty(t, ErrorCode(nil))
}
