// storage_test.go: Shared helpers for backend tests.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"io"
	"testing"

	"github.com/agilira/keyczar"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// newTestKeySet returns an AES key set with versions 1 (Active) and 2 (Primary).
func newTestKeySet(t *testing.T) *keyczar.MutableKeySet {
	t.Helper()
	mks, err := keyczar.NewEmptyMutableKeySet(keyczar.NewKeyMetadata("storage-test", keyczar.PurposeDecryptAndEncrypt, keyczar.KeyTypeAES))
	require.NoError(t, err)
	_, err = mks.AddKey(keyczar.StatusPrimary)
	require.NoError(t, err)
	_, err = mks.AddKey(keyczar.StatusPrimary)
	require.NoError(t, err)
	t.Cleanup(mks.Destroy)
	return mks
}

// assertRoundTrip checks that a ciphertext from mks decrypts through the key
// set loaded from r.
func assertRoundTrip(t *testing.T, mks *keyczar.MutableKeySet, r keyczar.KeySetReader) {
	t.Helper()
	src, err := mks.KeySet()
	require.NoError(t, err)
	defer src.Destroy()
	enc, err := keyczar.NewEncrypter(src)
	require.NoError(t, err)
	ct, err := enc.Encrypt([]byte("stored and loaded"))
	require.NoError(t, err)

	loaded, err := keyczar.NewKeySet(context.Background(), r)
	require.NoError(t, err)
	defer loaded.Destroy()
	require.Equal(t, []int{1, 2}, loaded.Versions())

	dec, err := keyczar.NewCrypter(loaded)
	require.NoError(t, err)
	pt, err := dec.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "stored and loaded", string(pt))
}
