// mutable.go: Editable key sets and the key rotation state machine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// maxCollisionRetries bounds the regeneration loop in AddKey.
const maxCollisionRetries = 16

// MutableKeySet is an editable, fully in-memory copy of a key set. Version
// statuses move through the rotation state machine
//
//	Inactive <-> Active <-> Primary
//
// with at most one Primary version at any time. Changes persist only through
// Save.
//
// Methods are serialized by an internal lock, but two MutableKeySets loaded
// from the same location do not coordinate: callers saving both must order
// the saves themselves.
type MutableKeySet struct {
	mu              sync.RWMutex
	meta            *KeyMetadata
	keys            map[int]Key
	onlyMetaChanged bool
}

// NewMutableKeySet deep-copies ks. Edits never reach ks's key material.
func NewMutableKeySet(ks *KeySet) (*MutableKeySet, error) {
	if ks == nil {
		return nil, newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, "key set cannot be nil")
	}
	keys := make(map[int]Key, len(ks.keys))
	for v, k := range ks.keys {
		kc, err := copyKey(k)
		if err != nil {
			destroyKeys(keys)
			return nil, err
		}
		keys[v] = kc
	}
	return &MutableKeySet{meta: ks.meta.Clone(), keys: keys, onlyMetaChanged: true}, nil
}

// LoadMutableKeySet reads a key set through r into an editable copy.
func LoadMutableKeySet(ctx context.Context, r KeySetReader) (*MutableKeySet, error) {
	meta, keys, err := readKeySet(ctx, r)
	if err != nil {
		return nil, err
	}
	logFor("LoadMutableKeySet").WithField("name", meta.Name).WithField("versions", len(meta.Versions)).
		Debug("loaded mutable key set")
	return &MutableKeySet{meta: meta, keys: keys, onlyMetaChanged: true}, nil
}

// NewEmptyMutableKeySet starts a key set from metadata without versions.
// Metadata that already lists versions is ErrInvalidKeySet.
//
// Example:
//
//	meta := keyczar.NewKeyMetadata("payments", keyczar.PurposeDecryptAndEncrypt, keyczar.KeyTypeAES)
//	mks, err := keyczar.NewEmptyMutableKeySet(meta)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := mks.AddKey(keyczar.StatusPrimary); err != nil {
//		log.Fatal(err)
//	}
//	err = mks.Save(ctx, storage.NewFileWriter("/etc/keys/payments", nil))
func NewEmptyMutableKeySet(meta *KeyMetadata) (*MutableKeySet, error) {
	if meta == nil {
		return nil, newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, "metadata cannot be nil")
	}
	if len(meta.Versions) > 0 {
		return nil, newError(ErrInvalidKeySet, ErrCodeInvalidKeySet,
			fmt.Sprintf("metadata for an empty key set lists %d versions", len(meta.Versions)))
	}
	m := meta.Clone()
	m.Versions = []*KeyVersion{}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &MutableKeySet{meta: m, keys: make(map[int]Key)}, nil
}

// Metadata returns a copy of the current metadata.
func (m *MutableKeySet) Metadata() *KeyMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta.Clone()
}

// Key returns the key of version, or nil. The key remains owned by m.
func (m *MutableKeySet) Key(version int) Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[version]
}

// AddKey generates a key of the set's type at its default size and adds it
// with status. Adding a Primary demotes the existing Primary to Active. The
// new key never shares a hash with a key already in the set.
func (m *MutableKeySet) AddKey(status KeyStatus) (int, error) {
	return m.AddKeySize(status, 0)
}

// AddKeySize is AddKey with an explicit key size in bits (0 for the default).
func (m *MutableKeySet) AddKeySize(status KeyStatus, size int) (int, error) {
	// THREAD SAFETY: Lock for the entire operation
	m.mu.Lock()
	defer m.mu.Unlock()

	if !status.IsValid() {
		return 0, newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("unknown status %q", status))
	}
	var key Key
	for attempt := 0; ; attempt++ {
		k, err := GenerateKey(m.meta.Type, size)
		if err != nil {
			return 0, err
		}
		if !m.hashInUseLocked(k.Hash()) {
			key = k
			break
		}
		k.Destroy()
		if attempt+1 >= maxCollisionRetries {
			return 0, newError(ErrKeyGeneration, ErrCodeKeyGeneration,
				fmt.Sprintf("could not generate a key with a unique hash after %d attempts", maxCollisionRetries))
		}
		logFor("MutableKeySet.AddKey").WithField("name", m.meta.Name).WithField("attempt", attempt+1).
			Debug("generated key collides with an existing key hash, regenerating")
	}
	return m.addLocked(status, key), nil
}

// ImportKey adds an existing key with status. It takes ownership of key. No
// collision check is made, so imported keys may share a hash with keys
// already in the set.
func (m *MutableKeySet) ImportKey(status KeyStatus, key Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !status.IsValid() {
		return 0, newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("unknown status %q", status))
	}
	if key == nil {
		return 0, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, "key cannot be nil")
	}
	if key.Type() != m.meta.Type {
		return 0, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("cannot import %s key into %s key set %q", key.Type(), m.meta.Type, m.meta.Name))
	}
	return m.addLocked(status, key), nil
}

// addLocked assumes the mutex is already held.
func (m *MutableKeySet) addLocked(status KeyStatus, key Key) int {
	if status == StatusPrimary {
		if p := m.meta.Primary(); p != nil {
			p.Status = StatusActive
		}
	}
	version := m.meta.nextVersion()
	m.meta.Versions = append(m.meta.Versions, &KeyVersion{VersionNumber: version, Status: status})
	m.meta.LastVersion = version
	m.keys[version] = key
	m.onlyMetaChanged = false

	logFor("MutableKeySet.addKey").WithField("name", m.meta.Name).WithField("version", version).
		WithField("status", status).WithField("hash", KeyFingerprint(key)).Debug("added key version")
	return version
}

func (m *MutableKeySet) hashInUseLocked(hash []byte) bool {
	id := hashID(hash)
	for _, k := range m.keys {
		if hashID(k.Hash()) == id {
			return true
		}
	}
	return false
}

// Promote moves version one step toward Primary: Active becomes Primary (the
// previous Primary becomes Active) and Inactive becomes Active. A Primary
// version is left unchanged. The returned status is the version's status
// after the call; ok is false when the version does not exist.
func (m *MutableKeySet) Promote(version int) (status KeyStatus, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.meta.Version(version)
	if v == nil {
		return "", false
	}
	from := v.Status
	switch v.Status {
	case StatusActive:
		if p := m.meta.Primary(); p != nil {
			p.Status = StatusActive
		}
		v.Status = StatusPrimary
	case StatusInactive:
		v.Status = StatusActive
	}
	m.logTransition("MutableKeySet.Promote", version, from, v.Status)
	return v.Status, true
}

// Demote moves version one step away from Primary: Primary becomes Active and
// Active becomes Inactive. An Inactive version is left unchanged. Same result
// contract as Promote.
func (m *MutableKeySet) Demote(version int) (status KeyStatus, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.meta.Version(version)
	if v == nil {
		return "", false
	}
	from := v.Status
	switch v.Status {
	case StatusPrimary:
		v.Status = StatusActive
	case StatusActive:
		v.Status = StatusInactive
	}
	m.logTransition("MutableKeySet.Demote", version, from, v.Status)
	return v.Status, true
}

// Revoke removes an Inactive version and destroys its key. It returns false,
// leaving the set unchanged, for Primary or Active versions and for unknown
// versions. The version number is never reassigned.
//
// Revoke changes metadata only; a store that keeps one file per version may
// retain the revoked version's file until the next full rewrite.
func (m *MutableKeySet) Revoke(version int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.meta.Version(version)
	if v == nil || v.Status != StatusInactive {
		return false
	}
	if version > m.meta.LastVersion {
		m.meta.LastVersion = version
	}
	kept := m.meta.Versions[:0]
	for _, kv := range m.meta.Versions {
		if kv.VersionNumber != version {
			kept = append(kept, kv)
		}
	}
	m.meta.Versions = kept
	if k, ok := m.keys[version]; ok {
		k.Destroy()
		delete(m.keys, version)
	}
	logFor("MutableKeySet.Revoke").WithField("name", m.meta.Name).WithField("version", version).
		Info("revoked key version")
	return true
}

func (m *MutableKeySet) logTransition(function string, version int, from, to KeyStatus) {
	if from == to {
		return
	}
	logFor(function).WithField("name", m.meta.Name).WithField("version", version).
		WithField("from", from).WithField("to", to).Debug("key version status changed")
}

// publicPurpose maps a private purpose to its public-only counterpart.
func publicPurpose(p KeyPurpose) KeyPurpose {
	switch p {
	case PurposeSignAndVerify, PurposeSign:
		return PurposeVerify
	case PurposeDecryptAndEncrypt:
		return PurposeEncrypt
	}
	return p
}

// PublicKey returns a new key set holding freshly constructed public halves of
// every version, with purpose SIGN_AND_VERIFY or SIGN mapped to VERIFY and
// DECRYPT_AND_ENCRYPT mapped to ENCRYPT. Statuses and version numbers are
// preserved. It returns nil for symmetric and already-public key types.
func (m *MutableKeySet) PublicKey() *MutableKeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.meta.Type.IsPrivate() {
		return nil
	}
	meta := m.meta.Clone()
	meta.Type = m.meta.Type.PublicType()
	meta.Purpose = publicPurpose(m.meta.Purpose)
	meta.Encrypted = false

	keys := make(map[int]Key, len(m.keys))
	for v, k := range m.keys {
		pk, ok := k.(PrivateKey)
		if !ok {
			destroyKeys(keys)
			return nil
		}
		pub := pk.PublicKey()
		if pub == nil {
			logFor("MutableKeySet.PublicKey").WithField("name", m.meta.Name).WithField("version", v).
				Error("failed to derive public key")
			destroyKeys(keys)
			return nil
		}
		keys[v] = pub
	}
	return &MutableKeySet{meta: meta, keys: keys}
}

// ForceKeyDataChange makes the next Save rewrite every key version, for
// example after changing the writer chain from plain to encrypted.
func (m *MutableKeySet) ForceKeyDataChange() {
	m.mu.Lock()
	m.onlyMetaChanged = false
	m.mu.Unlock()
}

// Save persists the key set through w: metadata first, then every version's
// key unless only metadata changed since the last load or save (writers that
// report RequiresFullRewrite always get every key), then Finish.
//
// Any failure discards the staged writes and returns ErrWriterFailed joined
// with every underlying error; the previously committed state is left intact.
func (m *MutableKeySet) Save(ctx context.Context, w KeySetWriter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w == nil {
		return newError(ErrWriterFailed, ErrCodeWriter, "key set writer cannot be nil")
	}
	if err := m.meta.Validate(); err != nil {
		return err
	}
	meta := m.meta.Clone()
	log := logFor("MutableKeySet.Save").WithField("name", meta.Name)
	fullWrite := !m.onlyMetaChanged || requiresFullRewrite(w)

	if err := m.writeLocked(ctx, w, meta, fullWrite); err != nil {
		errs := []error{err}
		if derr := w.Discard(ctx); derr != nil {
			errs = append(errs, derr)
		}
		log.WithError(err).Warn("key set save failed, staged writes discarded")
		return wrapError(ErrWriterFailed, errors.Join(errs...), ErrCodeWriter,
			fmt.Sprintf("failed to save key set %q", meta.Name))
	}
	m.onlyMetaChanged = true
	log.WithField("versions", len(meta.Versions)).WithField("keys_written", fullWrite).Debug("key set saved")
	return nil
}

func (m *MutableKeySet) writeLocked(ctx context.Context, w KeySetWriter, meta *KeyMetadata, fullWrite bool) error {
	if err := w.WriteMetadata(ctx, meta); err != nil {
		return err
	}
	if fullWrite {
		for _, v := range meta.Versions {
			k, ok := m.keys[v.VersionNumber]
			if !ok {
				return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("no key for version %d", v.VersionNumber))
			}
			data, err := k.Marshal()
			if err != nil {
				return wrapError(ErrInvalidKeySet, err, ErrCodeSerialization,
					fmt.Sprintf("failed to serialize key version %d", v.VersionNumber))
			}
			err = w.Write(ctx, data, v.VersionNumber)
			Zeroize(data)
			if err != nil {
				return err
			}
		}
	}
	return w.Finish(ctx)
}

// KeySet returns a read-only view holding copies of every key.
func (m *MutableKeySet) KeySet() (*KeySet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make(map[int]Key, len(m.keys))
	for v, k := range m.keys {
		kc, err := copyKey(k)
		if err != nil {
			destroyKeys(keys)
			return nil, err
		}
		keys[v] = kc
	}
	meta := m.meta.Clone()
	meta.sortVersions()
	return newKeySet(meta, keys), nil
}

// Destroy wipes every key held by the set.
func (m *MutableKeySet) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	destroyKeys(m.keys)
}
