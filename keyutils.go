// keyutils.go: Key hash derivation, web-safe encoding, randomness and zeroization.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

// KeyHashSize is the width in bytes of the key hash carried in every envelope header.
//
// The hash is the first KeyHashSize bytes of SHA-256 computed over the
// length-prefixed identifying components of the key (see computeKeyHash). It is
// deliberately short, so unrelated keys may share a hash; envelope resolution
// handles that by trying every matching key.
const KeyHashSize = 4

// computeKeyHash derives a key hash from the key's identifying components.
// Each component is prefixed with its length as a 4-byte big-endian integer.
func computeKeyHash(components ...[]byte) []byte {
	h := sha256.New()
	var lenBuf [4]byte
	for _, c := range components {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c))) // #nosec G115 -- key components are far below 4GiB
		h.Write(lenBuf[:])
		h.Write(c)
	}
	sum := h.Sum(nil)
	return sum[:KeyHashSize]
}

// hashID packs a key hash into an integer for map lookups.
func hashID(hash []byte) uint32 {
	if len(hash) < KeyHashSize {
		return 0
	}
	return binary.BigEndian.Uint32(hash)
}

// stripLeadingZeros removes leading zero bytes so that big integers hash the
// same regardless of their encoded width.
func stripLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// KeyFingerprint returns the hex form of a key's hash, for logs and CLI output.
//
// Example:
//
//	fmt.Println("primary:", keyczar.KeyFingerprint(ks.PrimaryKey())) // e.g. "a1b2c3d4"
func KeyFingerprint(k Key) string {
	if k == nil {
		return ""
	}
	return hex.EncodeToString(k.Hash())
}

// EncodeWebSafe encodes b as unpadded URL-safe base64.
func EncodeWebSafe(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeWebSafe decodes unpadded URL-safe base64. Padded input is accepted too.
func DecodeWebSafe(s string) ([]byte, error) {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeSerialization, "failed to decode web-safe base64")
	}
	return b, nil
}

// randomBytes returns n bytes from the system CSPRNG.
func randomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, newError(ErrKeyGeneration, ErrCodeRandom, fmt.Sprintf("random size must be positive, got %d", n))
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeRandom, "failed to read random bytes")
	}
	return b, nil
}

// Zeroize wipes b in place.
//
// Key material, derived secrets and passwords are zeroized with a deferred call
// as soon as they are no longer needed, so every exit path clears them.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	memguard.WipeBytes(b)
}
