// vanilla.go: Unversioned output without the envelope header.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"fmt"
)

// The vanilla variants emit raw ciphertexts and signatures for peers that do
// not understand the envelope. Without a header there is nothing to resolve a
// key from, so each instance is bound to one key version chosen by the caller.

// selectVersion returns the key for version, or the Primary key when version
// is 0.
func selectVersion(ks *KeySet, version int) (Key, error) {
	if version == 0 {
		return ks.primary()
	}
	k := ks.Key(version)
	if k == nil {
		return nil, newError(ErrKeyNotFound, ErrCodeKeyNotFound,
			fmt.Sprintf("key set %q has no version %d", ks.Name(), version))
	}
	return k, nil
}

// VanillaSigner signs message bytes directly with one key.
type VanillaSigner struct {
	key Signable
}

// NewVanillaSigner binds a signer to version (0 for the Primary key).
func NewVanillaSigner(ks *KeySet, version int) (*VanillaSigner, error) {
	if err := checkPurpose(ks, "sign", KeyPurpose.canSign); err != nil {
		return nil, err
	}
	k, err := selectVersion(ks, version)
	if err != nil {
		return nil, err
	}
	s, ok := k.(Signable)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("%s keys cannot sign", k.Type()))
	}
	return &VanillaSigner{key: s}, nil
}

// Sign returns the raw signature of message.
func (v *VanillaSigner) Sign(message []byte) ([]byte, error) {
	sig, err := v.key.Sign(message)
	if err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeSign, "signing failed")
	}
	return sig, nil
}

// VanillaVerifier verifies raw signatures with one key.
type VanillaVerifier struct {
	key Verifiable
}

// NewVanillaVerifier binds a verifier to version (0 for the Primary key).
func NewVanillaVerifier(ks *KeySet, version int) (*VanillaVerifier, error) {
	if err := checkPurpose(ks, "verify", KeyPurpose.canVerify); err != nil {
		return nil, err
	}
	k, err := selectVersion(ks, version)
	if err != nil {
		return nil, err
	}
	vk, ok := k.(Verifiable)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("%s keys cannot verify", k.Type()))
	}
	return &VanillaVerifier{key: vk}, nil
}

// Verify reports whether signature is valid for message.
func (v *VanillaVerifier) Verify(message, signature []byte) (bool, error) {
	return v.key.Verify(message, signature)
}

// VanillaEncrypter encrypts with one key and no header.
type VanillaEncrypter struct {
	key Encryptable
}

// NewVanillaEncrypter binds an encrypter to version (0 for the Primary key).
func NewVanillaEncrypter(ks *KeySet, version int) (*VanillaEncrypter, error) {
	if err := checkPurpose(ks, "encrypt", KeyPurpose.canEncrypt); err != nil {
		return nil, err
	}
	k, err := selectVersion(ks, version)
	if err != nil {
		return nil, err
	}
	e, ok := k.(Encryptable)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("%s keys cannot encrypt", k.Type()))
	}
	return &VanillaEncrypter{key: e}, nil
}

// Encrypt returns the bare payload for plaintext.
func (v *VanillaEncrypter) Encrypt(plaintext []byte) ([]byte, error) {
	return v.key.Encrypt(nil, plaintext)
}

// VanillaCrypter decrypts with one key and no header.
type VanillaCrypter struct {
	VanillaEncrypter
	dec Decryptable
}

// NewVanillaCrypter binds a crypter to version (0 for the Primary key).
func NewVanillaCrypter(ks *KeySet, version int) (*VanillaCrypter, error) {
	if err := checkPurpose(ks, "decrypt", KeyPurpose.canDecrypt); err != nil {
		return nil, err
	}
	k, err := selectVersion(ks, version)
	if err != nil {
		return nil, err
	}
	d, ok := k.(Decryptable)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("%s keys cannot decrypt", k.Type()))
	}
	e, _ := k.(Encryptable)
	return &VanillaCrypter{VanillaEncrypter: VanillaEncrypter{key: e}, dec: d}, nil
}

// Decrypt opens a bare payload. Authentication failures wrap ErrValidationFailed.
func (v *VanillaCrypter) Decrypt(ciphertext []byte) ([]byte, error) {
	return v.dec.Decrypt(nil, ciphertext)
}
