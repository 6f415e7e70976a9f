// postquantum.go: ML-DSA-65 signing and ML-KEM-768 hybrid encryption key variants.
//
// ML-KEM-768 payloads are ctKEM || nonce || AES-256-GCM(ciphertext || tag). The
// AES key is HKDF-SHA-512 over the KEM shared secret, salted with SHA-256 of
// ctKEM, with the envelope header folded into the info string.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/hkdf"
)

const (
	// mldsaKeySize and mlkemKeySize report the NIST category 3 strength in bits.
	mldsaKeySize = 192
	mlkemKeySize = 192

	// mlkemPublicKeyOffset is where the packed public key sits inside a packed
	// ML-KEM-768 private key.
	mlkemPublicKeyOffset = 1152

	mlkemHKDFContext = "keyczar:mlkem768:aes256gcm:v1"
)

type mldsaPrivateJSON struct {
	PrivateKey string `json:"privateKey"`
}

type mldsaPublicJSON struct {
	PublicKey string `json:"publicKey"`
}

type mldsaPublicKey struct {
	pub    *mldsa65.PublicKey
	packed []byte
	hash   []byte
}

type mldsaPrivateKey struct {
	priv   *mldsa65.PrivateKey
	packed []byte
	public *mldsaPublicKey
}

func newMLDSAPublicKey(packed []byte) (*mldsaPublicKey, error) {
	if len(packed) != mldsa65.PublicKeySize {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("invalid ML-DSA-65 public key length %d", len(packed)))
	}
	pub := new(mldsa65.PublicKey)
	if err := pub.UnmarshalBinary(packed); err != nil {
		return nil, err
	}
	return &mldsaPublicKey{pub: pub, packed: packed, hash: computeKeyHash(packed)}, nil
}

func newMLDSAPrivateKey(priv *mldsa65.PrivateKey) (*mldsaPrivateKey, error) {
	packed, err := priv.MarshalBinary()
	if err != nil {
		return nil, err
	}
	pub, ok := priv.Public().(*mldsa65.PublicKey)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, "ML-DSA-65 private key has no public half")
	}
	pubPacked, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	public, err := newMLDSAPublicKey(pubPacked)
	if err != nil {
		return nil, err
	}
	return &mldsaPrivateKey{priv: priv, packed: packed, public: public}, nil
}

func generateMLDSAKey(int) (Key, error) {
	_, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newMLDSAPrivateKey(priv)
}

func parseMLDSAPrivateKey(data []byte) (Key, error) {
	var j mldsaPrivateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	packed, err := base64.RawURLEncoding.DecodeString(j.PrivateKey)
	if err != nil {
		return nil, err
	}
	defer Zeroize(packed)
	priv := new(mldsa65.PrivateKey)
	if err := priv.UnmarshalBinary(packed); err != nil {
		return nil, err
	}
	return newMLDSAPrivateKey(priv)
}

func parseMLDSAPublicKey(data []byte) (Key, error) {
	var j mldsaPublicJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	packed, err := base64.RawURLEncoding.DecodeString(j.PublicKey)
	if err != nil {
		return nil, err
	}
	return newMLDSAPublicKey(packed)
}

func (k *mldsaPublicKey) Type() KeyType { return KeyTypeMLDSA65Pub }
func (k *mldsaPublicKey) Size() int     { return mldsaKeySize }
func (k *mldsaPublicKey) Hash() []byte  { return k.hash }
func (k *mldsaPublicKey) Destroy()      {}

func (k *mldsaPublicKey) Marshal() ([]byte, error) {
	return json.Marshal(mldsaPublicJSON{PublicKey: base64.RawURLEncoding.EncodeToString(k.packed)})
}

func (k *mldsaPublicKey) Verify(data, signature []byte) (bool, error) {
	if len(signature) != mldsa65.SignatureSize {
		return false, nil
	}
	return mldsa65.Verify(k.pub, data, nil, signature), nil
}

func (k *mldsaPrivateKey) Type() KeyType { return KeyTypeMLDSA65Priv }
func (k *mldsaPrivateKey) Size() int     { return mldsaKeySize }
func (k *mldsaPrivateKey) Hash() []byte  { return k.public.hash }

func (k *mldsaPrivateKey) PublicKey() Key {
	packed := make([]byte, len(k.public.packed))
	copy(packed, k.public.packed)
	pub, err := newMLDSAPublicKey(packed)
	if err != nil {
		return nil
	}
	return pub
}

func (k *mldsaPrivateKey) Marshal() ([]byte, error) {
	return json.Marshal(mldsaPrivateJSON{PrivateKey: base64.RawURLEncoding.EncodeToString(k.packed)})
}

// Destroy wipes the packed private key. The circl key value keeps its own
// expanded copy, which is released with the key.
func (k *mldsaPrivateKey) Destroy() {
	Zeroize(k.packed)
	k.priv = nil
}

func (k *mldsaPrivateKey) Sign(data []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, "ML-DSA-65 key destroyed")
	}
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(k.priv, data, nil, false, sig); err != nil {
		return nil, err
	}
	return sig, nil
}

func (k *mldsaPrivateKey) Verify(data, signature []byte) (bool, error) {
	return k.public.Verify(data, signature)
}

type mlkemPrivateJSON struct {
	SecretKey string `json:"secretKey"`
}

type mlkemPublicJSON struct {
	PublicKey string `json:"publicKey"`
}

type mlkemPublicKey struct {
	pub    *mlkem768.PublicKey
	packed []byte
	hash   []byte
}

type mlkemPrivateKey struct {
	priv   *mlkem768.PrivateKey
	packed []byte
	public *mlkemPublicKey
}

func newMLKEMPublicKey(packed []byte) (*mlkemPublicKey, error) {
	if len(packed) != mlkem768.PublicKeySize {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("invalid ML-KEM-768 public key length %d", len(packed)))
	}
	pub := new(mlkem768.PublicKey)
	if err := pub.Unpack(packed); err != nil {
		return nil, err
	}
	return &mlkemPublicKey{pub: pub, packed: packed, hash: computeKeyHash(packed)}, nil
}

func newMLKEMPrivateKey(packed []byte) (*mlkemPrivateKey, error) {
	if len(packed) != mlkem768.PrivateKeySize {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("invalid ML-KEM-768 private key length %d", len(packed)))
	}
	priv := new(mlkem768.PrivateKey)
	if err := priv.Unpack(packed); err != nil {
		return nil, err
	}
	pubPacked := make([]byte, mlkem768.PublicKeySize)
	copy(pubPacked, packed[mlkemPublicKeyOffset:mlkemPublicKeyOffset+mlkem768.PublicKeySize])
	public, err := newMLKEMPublicKey(pubPacked)
	if err != nil {
		return nil, err
	}
	return &mlkemPrivateKey{priv: priv, packed: packed, public: public}, nil
}

func generateMLKEMKey(int) (Key, error) {
	_, priv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}
	packed, err := priv.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return newMLKEMPrivateKey(packed)
}

func parseMLKEMPrivateKey(data []byte) (Key, error) {
	var j mlkemPrivateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	packed, err := base64.RawURLEncoding.DecodeString(j.SecretKey)
	if err != nil {
		return nil, err
	}
	return newMLKEMPrivateKey(packed)
}

func parseMLKEMPublicKey(data []byte) (Key, error) {
	var j mlkemPublicJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	packed, err := base64.RawURLEncoding.DecodeString(j.PublicKey)
	if err != nil {
		return nil, err
	}
	return newMLKEMPublicKey(packed)
}

// deriveMLKEMKey expands the shared secret into an AES-256 key.
func deriveMLKEMKey(sharedSecret, ctKEM, header []byte) ([]byte, error) {
	salt := sha256.Sum256(ctKEM)
	info := make([]byte, 0, len(mlkemHKDFContext)+len(header))
	info = append(info, mlkemHKDFContext...)
	info = append(info, header...)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha512.New, sharedSecret, salt[:], info), key); err != nil {
		return nil, err
	}
	return key, nil
}

func mlkemAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (k *mlkemPublicKey) Type() KeyType { return KeyTypeMLKEM768Pub }
func (k *mlkemPublicKey) Size() int     { return mlkemKeySize }
func (k *mlkemPublicKey) Hash() []byte  { return k.hash }
func (k *mlkemPublicKey) Destroy()      {}

func (k *mlkemPublicKey) Marshal() ([]byte, error) {
	return json.Marshal(mlkemPublicJSON{PublicKey: base64.RawURLEncoding.EncodeToString(k.packed)})
}

func (k *mlkemPublicKey) Encrypt(header, plaintext []byte) ([]byte, error) {
	ctKEM := make([]byte, mlkem768.CiphertextSize)
	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	defer Zeroize(sharedSecret)
	k.pub.EncapsulateTo(ctKEM, sharedSecret, nil)

	aesKey, err := deriveMLKEMKey(sharedSecret, ctKEM, header)
	if err != nil {
		return nil, wrapError(ErrInvalidKeyType, err, ErrCodeCipherInit, "ML-KEM key derivation failed")
	}
	defer Zeroize(aesKey)

	aead, err := mlkemAEAD(aesKey)
	if err != nil {
		return nil, wrapError(ErrInvalidKeyType, err, ErrCodeCipherInit, "failed to create GCM cipher")
	}
	sealed, err := sealAEAD(aead, header, plaintext)
	if err != nil {
		return nil, err
	}
	return append(ctKEM, sealed...), nil
}

func (k *mlkemPrivateKey) Type() KeyType { return KeyTypeMLKEM768Priv }
func (k *mlkemPrivateKey) Size() int     { return mlkemKeySize }
func (k *mlkemPrivateKey) Hash() []byte  { return k.public.hash }

func (k *mlkemPrivateKey) PublicKey() Key {
	packed := make([]byte, len(k.public.packed))
	copy(packed, k.public.packed)
	pub, err := newMLKEMPublicKey(packed)
	if err != nil {
		return nil
	}
	return pub
}

func (k *mlkemPrivateKey) Marshal() ([]byte, error) {
	return json.Marshal(mlkemPrivateJSON{SecretKey: base64.RawURLEncoding.EncodeToString(k.packed)})
}

func (k *mlkemPrivateKey) Destroy() {
	Zeroize(k.packed)
	k.priv = nil
}

func (k *mlkemPrivateKey) Encrypt(header, plaintext []byte) ([]byte, error) {
	return k.public.Encrypt(header, plaintext)
}

func (k *mlkemPrivateKey) Decrypt(header, payload []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, "ML-KEM-768 key destroyed")
	}
	if len(payload) < mlkem768.CiphertextSize {
		return nil, newError(ErrValidationFailed, ErrCodeDecrypt, "ML-KEM ciphertext too short")
	}
	ctKEM, sealed := payload[:mlkem768.CiphertextSize], payload[mlkem768.CiphertextSize:]

	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	defer Zeroize(sharedSecret)
	k.priv.DecapsulateTo(sharedSecret, ctKEM)

	aesKey, err := deriveMLKEMKey(sharedSecret, ctKEM, header)
	if err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeDecrypt, "ML-KEM key derivation failed")
	}
	defer Zeroize(aesKey)

	aead, err := mlkemAEAD(aesKey)
	if err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeDecrypt, "failed to create GCM cipher")
	}
	return openAEAD(aead, header, sealed)
}
