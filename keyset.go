// keyset.go: Read-only key set view with key hash index.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"fmt"
)

// KeySet is an immutable view of a versioned key set. It owns its keys and
// indexes them by key hash for envelope resolution.
//
// A KeySet is safe for concurrent use by multiple goroutines as long as
// Destroy is not called concurrently with other methods.
type KeySet struct {
	meta   *KeyMetadata
	keys   map[int]Key
	byHash map[uint32][]int // versions sharing a hash, ascending
}

// NewKeySet loads a key set through r.
//
// The metadata must satisfy the structural invariants (at most one Primary,
// unique positive version numbers, a purpose the key type supports), and every
// listed version must have parseable key data; otherwise ErrInvalidKeySet is
// returned.
//
// Example:
//
//	ks, err := keyczar.NewKeySet(ctx, storage.NewFileReader("/etc/keys/payments", nil))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ks.Destroy()
func NewKeySet(ctx context.Context, r KeySetReader) (*KeySet, error) {
	meta, keys, err := readKeySet(ctx, r)
	if err != nil {
		return nil, err
	}
	ks := newKeySet(meta, keys)
	logFor("NewKeySet").WithField("name", meta.Name).WithField("versions", len(meta.Versions)).
		Debug("loaded key set")
	return ks, nil
}

// newKeySet takes ownership of meta and keys.
func newKeySet(meta *KeyMetadata, keys map[int]Key) *KeySet {
	ks := &KeySet{
		meta:   meta,
		keys:   keys,
		byHash: make(map[uint32][]int, len(keys)),
	}
	for _, v := range meta.Versions {
		k, ok := keys[v.VersionNumber]
		if !ok {
			continue
		}
		id := hashID(k.Hash())
		ks.byHash[id] = append(ks.byHash[id], v.VersionNumber)
	}
	return ks
}

// Metadata returns a copy of the key set metadata.
func (ks *KeySet) Metadata() *KeyMetadata { return ks.meta.Clone() }

// Name returns the key set name.
func (ks *KeySet) Name() string { return ks.meta.Name }

// Purpose returns the declared purpose.
func (ks *KeySet) Purpose() KeyPurpose { return ks.meta.Purpose }

// Type returns the key type shared by every version.
func (ks *KeySet) Type() KeyType { return ks.meta.Type }

// Versions returns the version numbers in ascending order.
func (ks *KeySet) Versions() []int {
	out := make([]int, 0, len(ks.meta.Versions))
	for _, v := range ks.meta.Versions {
		out = append(out, v.VersionNumber)
	}
	return out
}

// Key returns the key of version, or nil.
func (ks *KeySet) Key(version int) Key { return ks.keys[version] }

// PrimaryKey returns the Primary key, or nil when the set has none.
func (ks *KeySet) PrimaryKey() Key {
	p := ks.meta.Primary()
	if p == nil {
		return nil
	}
	return ks.keys[p.VersionNumber]
}

// primary returns the Primary key or ErrMissingPrimaryKey.
func (ks *KeySet) primary() (Key, error) {
	k := ks.PrimaryKey()
	if k == nil {
		return nil, newError(ErrMissingPrimaryKey, ErrCodeMissingPrimary,
			fmt.Sprintf("key set %q has no primary version", ks.meta.Name))
	}
	return k, nil
}

// candidates returns every key whose hash equals hash, in ascending version order.
func (ks *KeySet) candidates(hash []byte) []Key {
	versions := ks.byHash[hashID(hash)]
	out := make([]Key, 0, len(versions))
	for _, v := range versions {
		out = append(out, ks.keys[v])
	}
	return out
}

// Destroy wipes every key held by the set.
func (ks *KeySet) Destroy() {
	destroyKeys(ks.keys)
}
