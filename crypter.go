// crypter.go: Envelope encryption and decryption over a key set.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"fmt"
)

// Encrypter encrypts with the Primary key of a key set whose purpose allows
// encryption. Output is [FormatVersion][key hash][payload].
type Encrypter struct {
	ks *KeySet
}

// NewEncrypter returns an Encrypter over ks. The key set must have purpose
// ENCRYPT or DECRYPT_AND_ENCRYPT.
func NewEncrypter(ks *KeySet) (*Encrypter, error) {
	if err := checkPurpose(ks, "encrypt", KeyPurpose.canEncrypt); err != nil {
		return nil, err
	}
	return &Encrypter{ks: ks}, nil
}

// KeySet returns the underlying key set.
func (e *Encrypter) KeySet() *KeySet { return e.ks }

// Encrypt encrypts plaintext with the Primary key. With no Primary version it
// fails with ErrMissingPrimaryKey.
//
// Example:
//
//	enc, _ := keyczar.NewEncrypter(ks)
//	ciphertext, err := enc.Encrypt([]byte("card number"))
func (e *Encrypter) Encrypt(plaintext []byte) ([]byte, error) {
	k, err := e.ks.primary()
	if err != nil {
		return nil, err
	}
	enc, ok := k.(Encryptable)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("%s keys cannot encrypt", k.Type()))
	}
	header := makeHeader(k)
	payload, err := enc.Encrypt(header, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...), nil
}

// EncryptString encrypts the UTF-8 bytes of plaintext and returns web-safe base64.
func (e *Encrypter) EncryptString(plaintext string) (string, error) {
	ct, err := e.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return EncodeWebSafe(ct), nil
}

// Crypter adds decryption to Encrypter. It requires purpose DECRYPT_AND_ENCRYPT.
type Crypter struct {
	Encrypter
}

// NewCrypter returns a Crypter over ks.
func NewCrypter(ks *KeySet) (*Crypter, error) {
	if err := checkPurpose(ks, "decrypt", KeyPurpose.canDecrypt); err != nil {
		return nil, err
	}
	return &Crypter{Encrypter{ks: ks}}, nil
}

// Decrypt resolves the key hash in the header to candidate keys and returns the
// plaintext from the first one that authenticates. ErrKeyNotFound means no key
// carries that hash; ErrValidationFailed means candidates exist but none
// authenticates the ciphertext. A Primary version is not required.
func (c *Crypter) Decrypt(ciphertext []byte) ([]byte, error) {
	env, err := openEnvelope(c.ks, ciphertext)
	if err != nil {
		return nil, err
	}
	return env.decryptWith()
}

// DecryptString reverses EncryptString.
func (c *Crypter) DecryptString(ciphertext string) (string, error) {
	ct, err := DecodeWebSafe(ciphertext)
	if err != nil {
		return "", err
	}
	pt, err := c.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// checkPurpose validates that ks is usable for op.
func checkPurpose(ks *KeySet, op string, allowed func(KeyPurpose) bool) error {
	if ks == nil {
		return newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, "key set cannot be nil")
	}
	if !allowed(ks.Purpose()) {
		return newError(ErrInvalidPurpose, ErrCodeInvalidPurpose,
			fmt.Sprintf("key set %q with purpose %s cannot %s", ks.Name(), ks.Purpose(), op))
	}
	return nil
}
