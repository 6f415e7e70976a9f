// helpers_test.go: Shared fixtures for keyczar tests.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func init() {
	l := logrus.New()
	l.SetOutput(io.Discard)
	SetLogger(l)
}

// newTestMutable builds a key set of keyType with one version per status, in
// order, at the type's default size.
func newTestMutable(t *testing.T, purpose KeyPurpose, keyType KeyType, statuses ...KeyStatus) *MutableKeySet {
	t.Helper()
	mks, err := NewEmptyMutableKeySet(NewKeyMetadata("test-"+string(keyType), purpose, keyType))
	require.NoError(t, err)
	for _, s := range statuses {
		_, err := mks.AddKey(s)
		require.NoError(t, err)
	}
	t.Cleanup(mks.Destroy)
	return mks
}

// newTestKeySet is newTestMutable followed by KeySet.
func newTestKeySet(t *testing.T, purpose KeyPurpose, keyType KeyType, statuses ...KeyStatus) *KeySet {
	t.Helper()
	return viewOf(t, newTestMutable(t, purpose, keyType, statuses...))
}

func viewOf(t *testing.T, mks *MutableKeySet) *KeySet {
	t.Helper()
	ks, err := mks.KeySet()
	require.NoError(t, err)
	t.Cleanup(ks.Destroy)
	return ks
}

// publicView returns the public projection of a private key set.
func publicView(t *testing.T, mks *MutableKeySet) *KeySet {
	t.Helper()
	pub := mks.PublicKey()
	require.NotNil(t, pub)
	t.Cleanup(pub.Destroy)
	return viewOf(t, pub)
}

// saved persists mks into a fresh MemoryStore.
func saved(t *testing.T, mks *MutableKeySet) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, mks.Save(context.Background(), store))
	return store
}

// flip returns a copy of b with bit 0 of b[i] inverted.
func flip(b []byte, i int) []byte {
	out := append([]byte(nil), b...)
	out[i] ^= 0x01
	return out
}
