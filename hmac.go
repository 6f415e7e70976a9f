// hmac.go: HMAC-SHA256 key variant.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type hmacKeyJSON struct {
	HMACKeyString string `json:"hmacKeyString"`
	Size          int    `json:"size"`
}

// hmacKey is a symmetric MAC key. It signs and verifies.
type hmacKey struct {
	key  []byte
	hash []byte
}

func newHMACKey(raw []byte) (*hmacKey, error) {
	if len(raw) != sha256.Size {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("invalid HMAC key length %d", len(raw)))
	}
	return &hmacKey{key: raw, hash: computeKeyHash(raw)}, nil
}

func generateHMACKey(size int) (Key, error) {
	raw, err := randomBytes(size / 8)
	if err != nil {
		return nil, err
	}
	return newHMACKey(raw)
}

func parseHMACKey(data []byte) (Key, error) {
	var j hmacKeyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(j.HMACKeyString)
	if err != nil {
		return nil, err
	}
	return newHMACKey(raw)
}

func (k *hmacKey) Type() KeyType { return KeyTypeHMACSHA256 }
func (k *hmacKey) Size() int     { return len(k.key) * 8 }
func (k *hmacKey) Hash() []byte  { return k.hash }
func (k *hmacKey) Destroy()      { Zeroize(k.key) }

func (k *hmacKey) Marshal() ([]byte, error) {
	return json.Marshal(hmacKeyJSON{
		HMACKeyString: base64.RawURLEncoding.EncodeToString(k.key),
		Size:          k.Size(),
	})
}

func (k *hmacKey) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, k.key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (k *hmacKey) Verify(data, signature []byte) (bool, error) {
	expected, _ := k.Sign(data)
	return hmac.Equal(expected, signature), nil
}
