// keyset_test.go: Tests for metadata, key set loading and the memory store.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValidate(t *testing.T) {
	version := func(n int, s KeyStatus) *KeyVersion { return &KeyVersion{VersionNumber: n, Status: s} }
	tests := []struct {
		name     string
		purpose  KeyPurpose
		keyType  KeyType
		versions []*KeyVersion
		valid    bool
	}{
		{"empty", PurposeDecryptAndEncrypt, KeyTypeAES, nil, true},
		{"one primary", PurposeSignAndVerify, KeyTypeHMACSHA256,
			[]*KeyVersion{version(1, StatusPrimary), version(2, StatusActive)}, true},
		{"no primary", PurposeVerify, KeyTypeECDSAPub, []*KeyVersion{version(3, StatusInactive)}, true},
		{"two primaries", PurposeDecryptAndEncrypt, KeyTypeAES,
			[]*KeyVersion{version(1, StatusPrimary), version(2, StatusPrimary)}, false},
		{"duplicate version", PurposeDecryptAndEncrypt, KeyTypeAES,
			[]*KeyVersion{version(1, StatusActive), version(1, StatusInactive)}, false},
		{"zero version", PurposeDecryptAndEncrypt, KeyTypeAES, []*KeyVersion{version(0, StatusActive)}, false},
		{"negative version", PurposeDecryptAndEncrypt, KeyTypeAES, []*KeyVersion{version(-2, StatusActive)}, false},
		{"unknown status", PurposeDecryptAndEncrypt, KeyTypeAES, []*KeyVersion{version(1, "RETIRED")}, false},
		{"nil version", PurposeDecryptAndEncrypt, KeyTypeAES, []*KeyVersion{nil}, false},
		{"unknown purpose", "TEST", KeyTypeAES, nil, false},
		{"unknown type", PurposeDecryptAndEncrypt, "DES", nil, false},
		{"purpose not supported by type", PurposeSignAndVerify, KeyTypeAES, nil, false},
		{"public type cannot decrypt", PurposeDecryptAndEncrypt, KeyTypeRSAPub, nil, false},
		{"public encrypt", PurposeEncrypt, KeyTypeRSAPub, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewKeyMetadata("m", tt.purpose, tt.keyType)
			m.Versions = append(m.Versions, tt.versions...)
			err := m.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidKeySet)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	data := []byte(`{"name":"n","purpose":"DECRYPT_AND_ENCRYPT","type":"AES","encrypted":false,` +
		`"versions":[{"versionNumber":3,"status":"ACTIVE","exportable":false},` +
		`{"versionNumber":1,"status":"PRIMARY","exportable":false}]}`)
	m, err := ParseMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "n", m.Name)
	assert.Equal(t, 1, m.Versions[0].VersionNumber, "versions are sorted")
	assert.Equal(t, 1, m.Primary().VersionNumber)
	assert.Nil(t, m.Version(2))
	assert.Equal(t, 4, m.nextVersion())

	out, err := m.Marshal()
	require.NoError(t, err)
	again, err := ParseMetadata(out)
	require.NoError(t, err)
	assert.Equal(t, m, again)

	_, err = ParseMetadata([]byte("{"))
	assert.ErrorIs(t, err, ErrInvalidKeySet)
	_, err = ParseMetadata([]byte(`{"name":"n","purpose":"SIGN_AND_VERIFY","type":"AES"}`))
	assert.ErrorIs(t, err, ErrInvalidKeySet)

	m, err = ParseMetadata([]byte(`{"name":"n","purpose":"SIGN","type":"HMAC_SHA256"}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Versions)
}

func TestMetadataClone(t *testing.T) {
	m := NewKeyMetadata("m", PurposeDecryptAndEncrypt, KeyTypeAES)
	m.Versions = append(m.Versions, &KeyVersion{VersionNumber: 1, Status: StatusPrimary})
	c := m.Clone()
	c.Versions[0].Status = StatusInactive
	c.Name = "other"
	assert.Equal(t, StatusPrimary, m.Versions[0].Status)
	assert.Equal(t, "m", m.Name)
}

func TestNewKeySet(t *testing.T) {
	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusActive, StatusPrimary, StatusInactive)
	store := saved(t, mks)

	ks, err := NewKeySet(context.Background(), store)
	require.NoError(t, err)
	defer ks.Destroy()

	assert.Equal(t, "test-AES", ks.Name())
	assert.Equal(t, PurposeDecryptAndEncrypt, ks.Purpose())
	assert.Equal(t, KeyTypeAES, ks.Type())
	assert.Equal(t, []int{1, 2, 3}, ks.Versions())
	assert.Equal(t, ks.Key(2), ks.PrimaryKey())
	assert.Nil(t, ks.Key(4))

	md := ks.Metadata()
	md.Versions[0].Status = StatusPrimary
	assert.Equal(t, StatusActive, ks.Metadata().Versions[0].Status, "Metadata returns a copy")
}

func TestNewKeySetErrors(t *testing.T) {
	t.Run("nil reader", func(t *testing.T) {
		_, err := NewKeySet(context.Background(), nil)
		assert.ErrorIs(t, err, ErrInvalidKeySet)
	})

	t.Run("empty store", func(t *testing.T) {
		_, err := NewKeySet(context.Background(), NewMemoryStore())
		assert.ErrorIs(t, err, ErrInvalidKeySet)
	})

	t.Run("missing key data", func(t *testing.T) {
		meta := NewKeyMetadata("m", PurposeDecryptAndEncrypt, KeyTypeAES)
		meta.Versions = append(meta.Versions, &KeyVersion{VersionNumber: 1, Status: StatusPrimary})
		r := &stubReader{meta: meta, keys: map[int][]byte{}}
		_, err := NewKeySet(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidKeySet)
	})

	t.Run("unparseable key data", func(t *testing.T) {
		meta := NewKeyMetadata("m", PurposeDecryptAndEncrypt, KeyTypeAES)
		meta.Versions = append(meta.Versions, &KeyVersion{VersionNumber: 1, Status: StatusPrimary})
		r := &stubReader{meta: meta, keys: map[int][]byte{1: []byte(`{"aesKeyString":"AAAA"}`)}}
		_, err := NewKeySet(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidKeySet)
	})

	t.Run("invalid metadata from reader", func(t *testing.T) {
		meta := NewKeyMetadata("m", PurposeDecryptAndEncrypt, KeyTypeAES)
		meta.Versions = append(meta.Versions,
			&KeyVersion{VersionNumber: 1, Status: StatusPrimary},
			&KeyVersion{VersionNumber: 2, Status: StatusPrimary})
		_, err := NewKeySet(context.Background(), &stubReader{meta: meta})
		assert.ErrorIs(t, err, ErrInvalidKeySet)
	})

	t.Run("reader failure", func(t *testing.T) {
		_, err := NewKeySet(context.Background(), &stubReader{err: errors.New("connection reset")})
		assert.ErrorIs(t, err, ErrInvalidKeySet)
	})

	t.Run("encrypted without decrypting reader", func(t *testing.T) {
		meta := NewKeyMetadata("m", PurposeDecryptAndEncrypt, KeyTypeAES)
		meta.Encrypted = true
		_, err := NewKeySet(context.Background(), &stubReader{meta: meta})
		assert.ErrorIs(t, err, ErrPasswordRequired)
	})
}

func TestMemoryStoreStaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	meta := NewKeyMetadata("m", PurposeDecryptAndEncrypt, KeyTypeAES)
	meta.Versions = append(meta.Versions, &KeyVersion{VersionNumber: 1, Status: StatusPrimary})

	require.NoError(t, store.WriteMetadata(ctx, meta))
	require.NoError(t, store.Write(ctx, []byte("k1"), 1))
	_, err := store.Metadata(ctx)
	assert.Error(t, err, "nothing is visible before Finish")

	require.NoError(t, store.Discard(ctx))
	require.NoError(t, store.Finish(ctx))
	assert.Empty(t, store.RawMetadata())

	require.NoError(t, store.WriteMetadata(ctx, meta))
	require.NoError(t, store.Write(ctx, []byte("k1"), 1))
	require.NoError(t, store.Finish(ctx))
	got, err := store.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m", got.Name)

	data, err := store.KeyData(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), data)
	data[0] = 'x'
	again, err := store.KeyData(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), again, "KeyData returns a copy")

	_, err = store.KeyData(ctx, 2)
	assert.ErrorIs(t, err, ErrInvalidKeySet)
	assert.False(t, store.RequiresFullRewrite())
}

func TestKeyTypeHelpers(t *testing.T) {
	assert.True(t, KeyTypeAES.IsKnown())
	assert.False(t, KeyType("DES").IsKnown())
	assert.Equal(t, 256, KeyTypeAES.DefaultSize())
	assert.Equal(t, 2048, KeyTypeRSAPriv.DefaultSize())
	assert.Equal(t, 0, KeyType("DES").DefaultSize())
	assert.True(t, KeyTypeECDSAPriv.IsValidSize(384))
	assert.False(t, KeyTypeECDSAPriv.IsValidSize(521))
	assert.True(t, KeyTypeMLKEM768Priv.IsPrivate())
	assert.False(t, KeyTypeHMACSHA256.IsPrivate())
	assert.True(t, KeyTypeXChaCha20.IsSymmetric())
	assert.Equal(t, KeyTypeMLDSA65Pub, KeyTypeMLDSA65Priv.PublicType())
	assert.Equal(t, KeyType(""), KeyTypeAES.PublicType())

	_, err := GenerateKey(KeyTypeRSAPub, 0)
	assert.ErrorIs(t, err, ErrInvalidKeyType)
	_, err = GenerateKey("DES", 0)
	assert.ErrorIs(t, err, ErrInvalidKeyType)
	_, err = ParseKey(KeyTypeHMACSHA256, []byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidKeySet)
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, keyType := range []KeyType{
		KeyTypeAES, KeyTypeXChaCha20, KeyTypeHMACSHA256, KeyTypeECDSAPriv, KeyTypeMLDSA65Priv, KeyTypeMLKEM768Priv,
	} {
		t.Run(string(keyType), func(t *testing.T) {
			k, err := GenerateKey(keyType, 0)
			require.NoError(t, err)
			defer k.Destroy()

			c, err := copyKey(k)
			require.NoError(t, err)
			defer c.Destroy()
			assert.Equal(t, k.Type(), c.Type())
			assert.Equal(t, k.Size(), c.Size())
			assert.Equal(t, k.Hash(), c.Hash())
			assert.Len(t, c.Hash(), KeyHashSize)

			if pk, ok := k.(PrivateKey); ok {
				pub := pk.PublicKey()
				data, err := pub.Marshal()
				require.NoError(t, err)
				parsed, err := ParseKey(keyType.PublicType(), data)
				require.NoError(t, err)
				assert.Equal(t, k.Hash(), parsed.Hash())
			}
		})
	}
}

// stubReader serves fixed metadata and key data.
type stubReader struct {
	meta *KeyMetadata
	keys map[int][]byte
	err  error
}

func (r *stubReader) Metadata(context.Context) (*KeyMetadata, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.meta.Clone(), nil
}

func (r *stubReader) KeyData(_ context.Context, version int) ([]byte, error) {
	data, ok := r.keys[version]
	if !ok {
		return nil, errors.New("no such key")
	}
	return append([]byte(nil), data...), nil
}
