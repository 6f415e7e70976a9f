// export_test.go: Tests for PEM export and import.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportPrivatePEM(t *testing.T) {
	for _, keyType := range []KeyType{KeyTypeRSAPriv, KeyTypeECDSAPriv} {
		t.Run(string(keyType), func(t *testing.T) {
			mks := newTestMutable(t, PurposeSignAndVerify, keyType, StatusActive, StatusPrimary)
			ks := viewOf(t, mks)

			out, err := ExportPrimaryPEM(ks)
			require.NoError(t, err)
			block, _ := pem.Decode(out)
			require.NotNil(t, block)
			assert.Equal(t, "PRIVATE KEY", block.Type)

			imported, err := ImportPEM(out)
			require.NoError(t, err)
			assert.Equal(t, keyType, imported.Type())
			assert.Equal(t, ks.PrimaryKey().Hash(), imported.Hash())

			target, err := NewEmptyMutableKeySet(NewKeyMetadata("imported", PurposeSignAndVerify, keyType))
			require.NoError(t, err)
			defer target.Destroy()
			v, err := target.ImportKey(StatusPrimary, imported)
			require.NoError(t, err)
			assert.Equal(t, 1, v)

			signer, err := NewSigner(viewOf(t, target))
			require.NoError(t, err)
			sig, err := signer.Sign([]byte("exported"))
			require.NoError(t, err)

			verifier, err := NewVerifier(publicView(t, mks))
			require.NoError(t, err)
			ok, err := verifier.Verify([]byte("exported"), sig)
			require.NoError(t, err)
			assert.True(t, ok, "original set verifies signatures from the imported key")
		})
	}
}

func TestExportImportPublicPEM(t *testing.T) {
	tests := []struct {
		priv KeyType
		pub  KeyType
	}{
		{KeyTypeRSAPriv, KeyTypeRSAPub},
		{KeyTypeECDSAPriv, KeyTypeECDSAPub},
	}
	for _, tt := range tests {
		t.Run(string(tt.priv), func(t *testing.T) {
			mks := newTestMutable(t, PurposeSignAndVerify, tt.priv, StatusPrimary)

			fromPriv, err := ExportPublicPEM(viewOf(t, mks))
			require.NoError(t, err)
			fromPub, err := ExportPublicPEM(publicView(t, mks))
			require.NoError(t, err)
			assert.Equal(t, fromPriv, fromPub)

			block, _ := pem.Decode(fromPub)
			require.NotNil(t, block)
			assert.Equal(t, "PUBLIC KEY", block.Type)

			imported, err := ImportPEM(fromPub)
			require.NoError(t, err)
			assert.Equal(t, tt.pub, imported.Type())
			assert.Equal(t, mks.Key(1).Hash(), imported.Hash())
			_, isPrivate := imported.(PrivateKey)
			assert.False(t, isPrivate)
		})
	}
}

func TestExportUnsupportedTypes(t *testing.T) {
	tests := []struct {
		name    string
		purpose KeyPurpose
		keyType KeyType
	}{
		{"AES", PurposeDecryptAndEncrypt, KeyTypeAES},
		{"HMAC", PurposeSignAndVerify, KeyTypeHMACSHA256},
		{"ML-DSA", PurposeSignAndVerify, KeyTypeMLDSA65Priv},
		{"ML-KEM", PurposeDecryptAndEncrypt, KeyTypeMLKEM768Priv},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := newTestKeySet(t, tt.purpose, tt.keyType, StatusPrimary)
			_, err := ExportPrimaryPEM(ks)
			assert.ErrorIs(t, err, ErrInvalidKeyType)
			_, err = ExportPublicPEM(ks)
			assert.ErrorIs(t, err, ErrInvalidKeyType)
		})
	}
}

func TestExportWithoutPrimary(t *testing.T) {
	ks := newTestKeySet(t, PurposeSignAndVerify, KeyTypeECDSAPriv, StatusActive)
	_, err := ExportPrimaryPEM(ks)
	assert.ErrorIs(t, err, ErrMissingPrimaryKey)
	_, err = ExportPublicPEM(ks)
	assert.ErrorIs(t, err, ErrMissingPrimaryKey)
}

func TestImportPEMErrors(t *testing.T) {
	_, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	edDER, err := x509.MarshalPKCS8PrivateKey(edPriv)
	require.NoError(t, err)
	edPubDER, err := x509.MarshalPKIXPublicKey(edPriv.Public())
	require.NoError(t, err)

	encode := func(typ string, b []byte) []byte {
		return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: b})
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrUnsupportedFormat},
		{"not PEM", []byte("-----not a key-----"), ErrUnsupportedFormat},
		{"certificate block", encode("CERTIFICATE", []byte{0x30, 0x00}), ErrUnsupportedFormat},
		{"PKCS#1 block", encode("RSA PRIVATE KEY", []byte{0x30, 0x00}), ErrUnsupportedFormat},
		{"malformed private", encode("PRIVATE KEY", []byte("junk")), ErrUnsupportedFormat},
		{"malformed public", encode("PUBLIC KEY", []byte("junk")), ErrUnsupportedFormat},
		{"ed25519 private", encode("PRIVATE KEY", edDER), ErrInvalidKeyType},
		{"ed25519 public", encode("PUBLIC KEY", edPubDER), ErrInvalidKeyType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ImportPEM(tt.data)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, k)
		})
	}
}

func TestImportPEMTypeMismatch(t *testing.T) {
	mks := newTestMutable(t, PurposeSignAndVerify, KeyTypeECDSAPriv, StatusPrimary)
	out, err := ExportPublicPEM(viewOf(t, mks))
	require.NoError(t, err)
	pub, err := ImportPEM(out)
	require.NoError(t, err)

	_, err = mks.ImportKey(StatusActive, pub)
	assert.ErrorIs(t, err, ErrInvalidKeyType)
}
