// encryption.go: Symmetric AEAD key variants (AES-GCM and XChaCha20-Poly1305).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Error codes for symmetric operations
const (
	ErrCodeCipherInit = "KEYCZAR_CIPHER_INIT"
	ErrCodeNonceGen   = "KEYCZAR_NONCE_GEN"
	ErrCodeDecrypt    = "KEYCZAR_DECRYPT"
)

// aesKeyJSON is the persisted form of an AES key.
type aesKeyJSON struct {
	AESKeyString string `json:"aesKeyString"`
	Size         int    `json:"size"`
	Mode         string `json:"mode"`
}

// aesKey is an AES-GCM key. The AEAD is built once and cached on the key, so
// repeated operations skip aes.NewCipher and cipher.NewGCM.
type aesKey struct {
	key  []byte
	hash []byte

	once    sync.Once
	aead    cipher.AEAD
	aeadErr error
}

func newAESKey(raw []byte) (*aesKey, error) {
	switch len(raw) {
	case 16, 24, 32:
	default:
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("invalid AES key length %d", len(raw)))
	}
	return &aesKey{key: raw, hash: computeKeyHash(raw)}, nil
}

func generateAESKey(size int) (Key, error) {
	raw, err := randomBytes(size / 8)
	if err != nil {
		return nil, err
	}
	return newAESKey(raw)
}

func parseAESKey(data []byte) (Key, error) {
	var j aesKeyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	if j.Mode != "" && j.Mode != "GCM" {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("unsupported AES mode %q", j.Mode))
	}
	raw, err := base64.RawURLEncoding.DecodeString(j.AESKeyString)
	if err != nil {
		return nil, err
	}
	if j.Size != 0 && j.Size != len(raw)*8 {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("AES size %d does not match key length %d", j.Size, len(raw)))
	}
	return newAESKey(raw)
}

func (k *aesKey) Type() KeyType { return KeyTypeAES }
func (k *aesKey) Size() int     { return len(k.key) * 8 }
func (k *aesKey) Hash() []byte  { return k.hash }

func (k *aesKey) Marshal() ([]byte, error) {
	return json.Marshal(aesKeyJSON{
		AESKeyString: base64.RawURLEncoding.EncodeToString(k.key),
		Size:         k.Size(),
		Mode:         "GCM",
	})
}

func (k *aesKey) Destroy() { Zeroize(k.key) }

func (k *aesKey) aeadCipher() (cipher.AEAD, error) {
	k.once.Do(func() {
		block, err := aes.NewCipher(k.key)
		if err != nil {
			k.aeadErr = wrapError(ErrInvalidKeyType, err, ErrCodeCipherInit, "failed to create AES cipher")
			return
		}
		k.aead, k.aeadErr = cipher.NewGCM(block)
		if k.aeadErr != nil {
			k.aeadErr = wrapError(ErrInvalidKeyType, k.aeadErr, ErrCodeCipherInit, "failed to create GCM cipher")
		}
	})
	return k.aead, k.aeadErr
}

func (k *aesKey) Encrypt(header, plaintext []byte) ([]byte, error) {
	aead, err := k.aeadCipher()
	if err != nil {
		return nil, err
	}
	return sealAEAD(aead, header, plaintext)
}

func (k *aesKey) Decrypt(header, payload []byte) ([]byte, error) {
	aead, err := k.aeadCipher()
	if err != nil {
		return nil, err
	}
	return openAEAD(aead, header, payload)
}

// xchachaKeyJSON is the persisted form of an XChaCha20-Poly1305 key.
type xchachaKeyJSON struct {
	Key  string `json:"key"`
	Size int    `json:"size"`
}

// xchachaKey is an XChaCha20-Poly1305 key with a 24-byte random nonce.
type xchachaKey struct {
	key  []byte
	hash []byte

	once    sync.Once
	aead    cipher.AEAD
	aeadErr error
}

func newXChaChaKey(raw []byte) (*xchachaKey, error) {
	if len(raw) != chacha20poly1305.KeySize {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("invalid XChaCha20 key length %d", len(raw)))
	}
	return &xchachaKey{key: raw, hash: computeKeyHash(raw)}, nil
}

func generateXChaChaKey(size int) (Key, error) {
	raw, err := randomBytes(size / 8)
	if err != nil {
		return nil, err
	}
	return newXChaChaKey(raw)
}

func parseXChaChaKey(data []byte) (Key, error) {
	var j xchachaKeyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(j.Key)
	if err != nil {
		return nil, err
	}
	return newXChaChaKey(raw)
}

func (k *xchachaKey) Type() KeyType { return KeyTypeXChaCha20 }
func (k *xchachaKey) Size() int     { return len(k.key) * 8 }
func (k *xchachaKey) Hash() []byte  { return k.hash }

func (k *xchachaKey) Marshal() ([]byte, error) {
	return json.Marshal(xchachaKeyJSON{
		Key:  base64.RawURLEncoding.EncodeToString(k.key),
		Size: k.Size(),
	})
}

func (k *xchachaKey) Destroy() { Zeroize(k.key) }

func (k *xchachaKey) aeadCipher() (cipher.AEAD, error) {
	k.once.Do(func() {
		k.aead, k.aeadErr = chacha20poly1305.NewX(k.key)
		if k.aeadErr != nil {
			k.aeadErr = wrapError(ErrInvalidKeyType, k.aeadErr, ErrCodeCipherInit, "failed to create XChaCha20-Poly1305 cipher")
		}
	})
	return k.aead, k.aeadErr
}

func (k *xchachaKey) Encrypt(header, plaintext []byte) ([]byte, error) {
	aead, err := k.aeadCipher()
	if err != nil {
		return nil, err
	}
	return sealAEAD(aead, header, plaintext)
}

func (k *xchachaKey) Decrypt(header, payload []byte) ([]byte, error) {
	aead, err := k.aeadCipher()
	if err != nil {
		return nil, err
	}
	return openAEAD(aead, header, payload)
}

// sealAEAD returns nonce || ciphertext || tag with aad bound as additional data.
func sealAEAD(aead cipher.AEAD, aad, plaintext []byte) ([]byte, error) {
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeNonceGen, "failed to generate nonce")
	}
	return aead.Seal(out, out[:aead.NonceSize()], plaintext, aad), nil // #nosec G407 -- nonce is generated from crypto/rand
}

// openAEAD reverses sealAEAD. Any failure is a validation failure.
func openAEAD(aead cipher.AEAD, aad, payload []byte) ([]byte, error) {
	if len(payload) < aead.NonceSize()+aead.Overhead() {
		return nil, newError(ErrValidationFailed, ErrCodeDecrypt, "ciphertext too short")
	}
	nonce, ciphertext := payload[:aead.NonceSize()], payload[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeDecrypt, "authentication failed")
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
