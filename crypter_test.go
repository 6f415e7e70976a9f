// crypter_test.go: Tests for versioned encryption and decryption.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrypterRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		keyType KeyType
		size    int
	}{
		{"AES-128", KeyTypeAES, 128},
		{"AES-192", KeyTypeAES, 192},
		{"AES-256", KeyTypeAES, 256},
		{"XChaCha20", KeyTypeXChaCha20, 0},
		{"RSA-2048", KeyTypeRSAPriv, 2048},
		{"ML-KEM-768", KeyTypeMLKEM768Priv, 0},
	}
	messages := map[string][]byte{
		"empty": {},
		"short": []byte("This is some test data"),
		"large": bytes.Repeat([]byte("0123456789abcdef"), 4096),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mks, err := NewEmptyMutableKeySet(NewKeyMetadata("crypt", PurposeDecryptAndEncrypt, tt.keyType))
			require.NoError(t, err)
			defer mks.Destroy()
			_, err = mks.AddKeySize(StatusPrimary, tt.size)
			require.NoError(t, err)
			crypter, err := NewCrypter(viewOf(t, mks))
			require.NoError(t, err)

			for label, msg := range messages {
				ct, err := crypter.Encrypt(msg)
				require.NoError(t, err, label)
				assert.Equal(t, FormatVersion, ct[0])

				pt, err := crypter.Decrypt(ct)
				require.NoError(t, err, label)
				if len(msg) == 0 {
					assert.Empty(t, pt)
				} else {
					assert.Equal(t, msg, pt, label)
				}
			}
		})
	}
}

func TestCrypterRSAMultiBlock(t *testing.T) {
	ks := newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeRSAPriv, StatusPrimary)
	crypter, err := NewCrypter(ks)
	require.NoError(t, err)

	// 2048-bit modulus: 256-byte blocks carrying 190 bytes each
	tests := []struct {
		size   int
		blocks int
	}{
		{0, 1},
		{190, 1},
		{191, 2},
		{300, 2},
		{1000, 6},
	}
	for _, tt := range tests {
		msg := bytes.Repeat([]byte("x"), tt.size)
		ct, err := crypter.Encrypt(msg)
		require.NoError(t, err, "size %d", tt.size)
		assert.Len(t, ct, HeaderSize+tt.blocks*256, "size %d", tt.size)

		pt, err := crypter.Decrypt(ct)
		require.NoError(t, err, "size %d", tt.size)
		assert.Equal(t, tt.size, len(pt))
		assert.True(t, bytes.Equal(msg, pt))
	}
}

func TestCrypterRSABlockTampering(t *testing.T) {
	ks := newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeRSAPriv, StatusPrimary)
	crypter, err := NewCrypter(ks)
	require.NoError(t, err)

	msg := bytes.Repeat([]byte("0123456789"), 50)
	ct, err := crypter.Encrypt(msg)
	require.NoError(t, err)
	require.Len(t, ct, HeaderSize+3*256)

	header, blocks := ct[:HeaderSize], ct[HeaderSize:]
	join := func(parts ...[]byte) []byte {
		out := append([]byte(nil), header...)
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}
	b0, b1, b2 := blocks[:256], blocks[256:512], blocks[512:]

	tests := []struct {
		name string
		data []byte
	}{
		{"ragged length", ct[:len(ct)-1]},
		{"header only", join()},
		{"swapped blocks", join(b1, b0, b2)},
		{"dropped last block", join(b0, b1)},
		{"dropped first block", join(b1, b2)},
		{"duplicated block", join(b0, b1, b2, b2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := crypter.Decrypt(tt.data)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.Nil(t, pt)
		})
	}
}

func TestCrypterCiphertextsDiffer(t *testing.T) {
	crypter, err := NewCrypter(newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary))
	require.NoError(t, err)

	a, err := crypter.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := crypter.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a[:HeaderSize], b[:HeaderSize])
}

func TestCrypterHeaderCarriesPrimaryHash(t *testing.T) {
	ks := newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusActive, StatusPrimary)
	crypter, err := NewCrypter(ks)
	require.NoError(t, err)

	ct, err := crypter.Encrypt([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, ks.Key(2).Hash(), ct[1:HeaderSize])
}

func TestCrypterDecryptsAfterRotation(t *testing.T) {
	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary)
	before, err := NewCrypter(viewOf(t, mks))
	require.NoError(t, err)
	ct, err := before.Encrypt([]byte("rotated"))
	require.NoError(t, err)

	_, err = mks.AddKey(StatusPrimary)
	require.NoError(t, err)
	status, ok := mks.Demote(1)
	require.True(t, ok)
	require.Equal(t, StatusInactive, status)

	after, err := NewCrypter(viewOf(t, mks))
	require.NoError(t, err)
	pt, err := after.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "rotated", string(pt))

	require.True(t, mks.Revoke(1))
	revoked, err := NewCrypter(viewOf(t, mks))
	require.NoError(t, err)
	_, err = revoked.Decrypt(ct)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCrypterRejectsBadInput(t *testing.T) {
	crypter, err := NewCrypter(newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary))
	require.NoError(t, err)
	ct, err := crypter.Encrypt([]byte("integrity"))
	require.NoError(t, err)

	foreign, err := NewCrypter(newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary))
	require.NoError(t, err)
	foreignCT, err := foreign.Encrypt([]byte("integrity"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"empty", nil, ErrShortInput},
		{"header only prefix", ct[:HeaderSize-1], ErrShortInput},
		{"unknown format", flip(ct, 0), ErrUnsupportedFormat},
		{"foreign key", foreignCT, ErrKeyNotFound},
		{"tampered payload", flip(ct, len(ct)-1), ErrValidationFailed},
		{"tampered nonce", flip(ct, HeaderSize), ErrValidationFailed},
		{"truncated payload", ct[:HeaderSize+4], ErrValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypter.Decrypt(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCrypterHeaderIsAuthenticated(t *testing.T) {
	// The header is additional data: another key or an altered header fails.
	k1, err := newAESKey(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	k2, err := newAESKey(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	header := makeHeader(k1)
	payload, err := k1.Encrypt(header, []byte("bound"))
	require.NoError(t, err)

	_, err = k2.Decrypt(header, payload)
	assert.ErrorIs(t, err, ErrValidationFailed)

	altered := flip(header, 1)
	_, err = k1.Decrypt(altered, payload)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestCrypterPurposeChecks(t *testing.T) {
	signKS := newTestKeySet(t, PurposeSignAndVerify, KeyTypeHMACSHA256, StatusPrimary)
	_, err := NewEncrypter(signKS)
	assert.ErrorIs(t, err, ErrInvalidPurpose)
	_, err = NewCrypter(signKS)
	assert.ErrorIs(t, err, ErrInvalidPurpose)

	_, err = NewCrypter(nil)
	assert.ErrorIs(t, err, ErrInvalidKeySet)
}

func TestEncrypterMissingPrimary(t *testing.T) {
	ks := newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusActive)
	crypter, err := NewCrypter(ks)
	require.NoError(t, err)

	_, err = crypter.Encrypt([]byte("no primary"))
	assert.ErrorIs(t, err, ErrMissingPrimaryKey)
}

func TestCrypterDecryptsWithoutPrimary(t *testing.T) {
	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary)
	enc, err := NewEncrypter(viewOf(t, mks))
	require.NoError(t, err)
	ct, err := enc.Encrypt([]byte("still readable"))
	require.NoError(t, err)

	_, ok := mks.Demote(1)
	require.True(t, ok)
	crypter, err := NewCrypter(viewOf(t, mks))
	require.NoError(t, err)
	pt, err := crypter.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "still readable", string(pt))
}

func TestPublicKeyEncrypter(t *testing.T) {
	for _, keyType := range []KeyType{KeyTypeRSAPriv, KeyTypeMLKEM768Priv} {
		t.Run(string(keyType), func(t *testing.T) {
			mks := newTestMutable(t, PurposeDecryptAndEncrypt, keyType, StatusPrimary)
			pubKS := publicView(t, mks)
			assert.Equal(t, PurposeEncrypt, pubKS.Purpose())

			enc, err := NewEncrypter(pubKS)
			require.NoError(t, err)
			_, err = NewCrypter(pubKS)
			assert.ErrorIs(t, err, ErrInvalidPurpose)

			ct, err := enc.Encrypt([]byte("to the private side"))
			require.NoError(t, err)

			crypter, err := NewCrypter(viewOf(t, mks))
			require.NoError(t, err)
			pt, err := crypter.Decrypt(ct)
			require.NoError(t, err)
			assert.Equal(t, "to the private side", string(pt))
		})
	}
}

func TestCrypterStrings(t *testing.T) {
	crypter, err := NewCrypter(newTestKeySet(t, PurposeDecryptAndEncrypt, KeyTypeXChaCha20, StatusPrimary))
	require.NoError(t, err)

	ct, err := crypter.EncryptString("web safe")
	require.NoError(t, err)
	assert.NotContains(t, ct, "+")
	assert.NotContains(t, ct, "/")
	assert.NotContains(t, ct, "=")

	pt, err := crypter.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "web safe", pt)

	_, err = crypter.DecryptString("not*base64")
	assert.ErrorIs(t, err, ErrValidationFailed)
}
