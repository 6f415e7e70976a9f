// commands_test.go: End-to-end tests for keyczart commands.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agilira/keyczar"
	"github.com/agilira/keyczar/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, prompt keyczar.PasswordPrompt, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(&out, prompt)
	app.ErrWriter = &bytes.Buffer{}
	err := app.RunContext(context.Background(), append([]string{"keyczart", "--env-file", ""}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, nil, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

func loadKeySet(t *testing.T, r keyczar.KeySetReader) *keyczar.KeySet {
	t.Helper()
	ks, err := keyczar.NewKeySet(context.Background(), r)
	require.NoError(t, err)
	t.Cleanup(ks.Destroy)
	return ks
}

func TestCreateAndRotate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crypt")

	mustRun(t, "create", "--location", dir, "--purpose", "crypt", "--name", "payments")
	mustRun(t, "addkey", "--location", dir, "--status", "primary")
	out := mustRun(t, "addkey", "--location", dir, "--status", "primary")
	assert.Contains(t, out, "added version 2")

	mustRun(t, "demote", "--location", dir, "--version", "1")
	out = mustRun(t, "revoke", "--location", dir, "--version", "1")
	assert.Contains(t, out, "version 1 revoked")

	ks := loadKeySet(t, storage.NewFileReader(dir, nil))
	assert.Equal(t, "payments", ks.Name())
	assert.Equal(t, keyczar.KeyTypeAES, ks.Type())
	assert.Equal(t, []int{2}, ks.Versions())

	out = mustRun(t, "addkey", "--location", dir)
	assert.Contains(t, out, "added version 3", "revoked numbers are not reused")
}

func TestCreateRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, "create", "--location", dir, "--purpose", "sign")
	_, err := run(t, nil, "create", "--location", dir, "--purpose", "sign")
	assert.ErrorIs(t, err, storage.ErrExists)
}

func TestCreateNeedsTypeForPublicPurposes(t *testing.T) {
	_, err := run(t, nil, "create", "--location", t.TempDir(), "--purpose", "verify")
	assert.Error(t, err)
}

func TestUseKeyEncrypts(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, "create", "--location", dir, "--purpose", "crypt")
	mustRun(t, "addkey", "--location", dir, "--status", "PRIMARY")

	out := mustRun(t, "usekey", "--location", dir, "secret message")
	ct, err := keyczar.DecodeWebSafe(strings.TrimSpace(out))
	require.NoError(t, err)

	crypter, err := keyczar.NewCrypter(loadKeySet(t, storage.NewFileReader(dir, nil)))
	require.NoError(t, err)
	pt, err := crypter.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "secret message", string(pt))
}

func TestUseKeyAttachedSignature(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, "create", "--location", dir, "--purpose", "sign", "--type", "ECDSA_PRIV")
	mustRun(t, "addkey", "--location", dir, "--status", "PRIMARY")

	out := mustRun(t, "usekey", "--location", dir, "--format", "attached", "--secret", "nonce", "hello")
	signed, err := keyczar.DecodeWebSafe(strings.TrimSpace(out))
	require.NoError(t, err)

	v, err := keyczar.NewAttachedVerifier(loadKeySet(t, storage.NewFileReader(dir, nil)))
	require.NoError(t, err)
	msg, err := v.VerifiedMessage(signed, []byte("nonce"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))

	ok, err := v.Verify(signed, []byte("other"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPubKeyAndExport(t *testing.T) {
	base := t.TempDir()
	priv := filepath.Join(base, "priv")
	pub := filepath.Join(base, "pub")
	mustRun(t, "create", "--location", priv, "--purpose", "sign", "--type", "ECDSA_PRIV")
	mustRun(t, "addkey", "--location", priv, "--status", "PRIMARY")
	mustRun(t, "pubkey", "--location", priv, "--destination", pub)

	ks := loadKeySet(t, storage.NewFileReader(pub, nil))
	assert.Equal(t, keyczar.KeyTypeECDSAPub, ks.Type())
	assert.Equal(t, keyczar.PurposeVerify, ks.Purpose())

	pemFile := filepath.Join(base, "key.pem")
	mustRun(t, "export", "--location", priv, "--destination", pemFile)
	data, err := os.ReadFile(pemFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN PRIVATE KEY")

	out := mustRun(t, "export", "--location", priv, "--public")
	assert.Contains(t, out, "BEGIN PUBLIC KEY")
}

func TestExportSymmetricFails(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, "create", "--location", dir, "--purpose", "crypt")
	mustRun(t, "addkey", "--location", dir, "--status", "PRIMARY")
	_, err := run(t, nil, "export", "--location", dir)
	assert.ErrorIs(t, err, keyczar.ErrInvalidKeyType)
}

func TestPasswordProtectedKeySet(t *testing.T) {
	dir := t.TempDir()
	prompt := keyczar.StaticPassword([]byte("correct horse"))

	_, err := run(t, prompt, "create", "--location", dir, "--purpose", "crypt", "--password")
	require.NoError(t, err)
	_, err = run(t, prompt, "addkey", "--location", dir, "--status", "PRIMARY", "--password")
	require.NoError(t, err)

	_, err = keyczar.NewKeySet(context.Background(), storage.NewFileReader(dir, nil))
	assert.ErrorIs(t, err, keyczar.ErrPasswordRequired)

	ks := loadKeySet(t, keyczar.NewPBEReader(storage.NewFileReader(dir, nil), prompt))
	assert.Len(t, ks.Versions(), 1)

	_, err = run(t, keyczar.StaticPassword([]byte("wrong")), "usekey", "--location", dir, "--password", "m")
	assert.Error(t, err)
}

func TestCrypterProtectedKeySet(t *testing.T) {
	base := t.TempDir()
	kek := filepath.Join(base, "kek")
	dir := filepath.Join(base, "keys")
	mustRun(t, "create", "--location", kek, "--purpose", "crypt")
	mustRun(t, "addkey", "--location", kek, "--status", "PRIMARY")

	mustRun(t, "create", "--location", dir, "--purpose", "sign", "--crypter", kek)
	mustRun(t, "addkey", "--location", dir, "--status", "PRIMARY", "--crypter", kek)
	out := mustRun(t, "usekey", "--location", dir, "--crypter", kek, "msg")
	assert.NotEmpty(t, strings.TrimSpace(out))

	_, err := run(t, nil, "usekey", "--location", dir, "msg")
	assert.ErrorIs(t, err, keyczar.ErrPasswordRequired)
}

func TestParsePurpose(t *testing.T) {
	tests := []struct {
		in   string
		want keyczar.KeyPurpose
		err  bool
	}{
		{"crypt", keyczar.PurposeDecryptAndEncrypt, false},
		{"SIGN", keyczar.PurposeSignAndVerify, false},
		{"verify", keyczar.PurposeVerify, false},
		{"encrypt", keyczar.PurposeEncrypt, false},
		{"mint", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePurpose(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
