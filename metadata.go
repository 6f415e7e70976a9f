// metadata.go: Key set metadata, purposes and rotation statuses.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"encoding/json"
	"fmt"
	"sort"
)

// KeyPurpose declares what a key set may be used for.
type KeyPurpose string

const (
	PurposeEncrypt           KeyPurpose = "ENCRYPT"             // encrypt only (public keys)
	PurposeDecryptAndEncrypt KeyPurpose = "DECRYPT_AND_ENCRYPT" // symmetric or private keys
	PurposeSign              KeyPurpose = "SIGN"                // sign only
	PurposeSignAndVerify     KeyPurpose = "SIGN_AND_VERIFY"     // MAC or private keys
	PurposeVerify            KeyPurpose = "VERIFY"              // verify only (public keys)
)

// IsValid reports whether p is a known purpose.
func (p KeyPurpose) IsValid() bool {
	switch p {
	case PurposeEncrypt, PurposeDecryptAndEncrypt, PurposeSign, PurposeSignAndVerify, PurposeVerify:
		return true
	}
	return false
}

func (p KeyPurpose) canEncrypt() bool {
	return p == PurposeEncrypt || p == PurposeDecryptAndEncrypt
}

func (p KeyPurpose) canDecrypt() bool { return p == PurposeDecryptAndEncrypt }

func (p KeyPurpose) canSign() bool {
	return p == PurposeSign || p == PurposeSignAndVerify
}

func (p KeyPurpose) canVerify() bool {
	return p == PurposeVerify || p == PurposeSignAndVerify
}

// KeyStatus is the rotation status of a key version.
type KeyStatus string

const (
	StatusPrimary  KeyStatus = "PRIMARY"  // used for new encrypt/sign operations
	StatusActive   KeyStatus = "ACTIVE"   // still decrypts and verifies
	StatusInactive KeyStatus = "INACTIVE" // still decrypts and verifies, eligible for revocation
)

// IsValid reports whether s is a known status.
func (s KeyStatus) IsValid() bool {
	return s == StatusPrimary || s == StatusActive || s == StatusInactive
}

// KeyVersion is one entry of a key set.
type KeyVersion struct {
	VersionNumber int       `json:"versionNumber"`
	Status        KeyStatus `json:"status"`
	Exportable    bool      `json:"exportable"`
}

// KeyMetadata describes a key set: its name, purpose, key type, whether its
// key data is encrypted at rest, and its versions ordered by version number.
//
// LastVersion records the highest version number ever assigned, so numbers
// freed by Revoke are never handed out again.
type KeyMetadata struct {
	Name        string        `json:"name"`
	Purpose     KeyPurpose    `json:"purpose"`
	Type        KeyType       `json:"type"`
	Encrypted   bool          `json:"encrypted"`
	Versions    []*KeyVersion `json:"versions"`
	LastVersion int           `json:"lastVersion,omitempty"`
}

// NewKeyMetadata returns empty metadata for a new key set.
func NewKeyMetadata(name string, purpose KeyPurpose, keyType KeyType) *KeyMetadata {
	return &KeyMetadata{
		Name:     name,
		Purpose:  purpose,
		Type:     keyType,
		Versions: []*KeyVersion{},
	}
}

// ParseMetadata decodes and validates serialized metadata.
func ParseMetadata(data []byte) (*KeyMetadata, error) {
	var m KeyMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, wrapError(ErrInvalidKeySet, err, ErrCodeSerialization, "failed to decode key set metadata")
	}
	if m.Versions == nil {
		m.Versions = []*KeyVersion{}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.sortVersions()
	return &m, nil
}

// Marshal serializes the metadata as JSON.
func (m *KeyMetadata) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, wrapError(ErrInvalidKeySet, err, ErrCodeSerialization, "failed to encode key set metadata")
	}
	return data, nil
}

// Clone returns a deep copy.
func (m *KeyMetadata) Clone() *KeyMetadata {
	out := *m
	out.Versions = make([]*KeyVersion, len(m.Versions))
	for i, v := range m.Versions {
		vc := *v
		out.Versions[i] = &vc
	}
	return &out
}

// Version returns the entry for n, or nil.
func (m *KeyMetadata) Version(n int) *KeyVersion {
	for _, v := range m.Versions {
		if v.VersionNumber == n {
			return v
		}
	}
	return nil
}

// Primary returns the Primary entry, or nil when the set has none.
func (m *KeyMetadata) Primary() *KeyVersion {
	for _, v := range m.Versions {
		if v.Status == StatusPrimary {
			return v
		}
	}
	return nil
}

// Validate checks the structural invariants: known purpose and type, a purpose
// the type can serve, unique positive version numbers, valid statuses and at
// most one Primary.
func (m *KeyMetadata) Validate() error {
	if !m.Purpose.IsValid() {
		return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("unknown purpose %q", m.Purpose))
	}
	if !m.Type.IsKnown() {
		return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("unknown key type %q", m.Type))
	}
	if !m.Type.Supports(m.Purpose) {
		return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet,
			fmt.Sprintf("key type %s cannot be used for %s", m.Type, m.Purpose))
	}
	seen := make(map[int]struct{}, len(m.Versions))
	primaries := 0
	for _, v := range m.Versions {
		if v == nil {
			return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, "nil version entry")
		}
		if v.VersionNumber <= 0 {
			return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("invalid version number %d", v.VersionNumber))
		}
		if _, dup := seen[v.VersionNumber]; dup {
			return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("duplicate version number %d", v.VersionNumber))
		}
		seen[v.VersionNumber] = struct{}{}
		if !v.Status.IsValid() {
			return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet,
				fmt.Sprintf("version %d has unknown status %q", v.VersionNumber, v.Status))
		}
		if v.Status == StatusPrimary {
			primaries++
		}
	}
	if primaries > 1 {
		return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, fmt.Sprintf("%d primary versions", primaries))
	}
	return nil
}

func (m *KeyMetadata) sortVersions() {
	sort.Slice(m.Versions, func(i, j int) bool {
		return m.Versions[i].VersionNumber < m.Versions[j].VersionNumber
	})
}

// nextVersion returns one more than the highest version ever assigned.
func (m *KeyMetadata) nextVersion() int {
	maxVersion := m.LastVersion
	for _, v := range m.Versions {
		if v.VersionNumber > maxVersion {
			maxVersion = v.VersionNumber
		}
	}
	return maxVersion + 1
}
