// rsa.go: RSA key pair variants (OAEP-SHA256 encryption, PSS-SHA256 signatures).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
)

var rsaPSSOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

type rsaPrivateJSON struct {
	PKCS8 string `json:"pkcs8"`
	Size  int    `json:"size"`
}

type rsaPublicJSON struct {
	PKIX string `json:"pkix"`
	Size int    `json:"size"`
}

type rsaPublicKey struct {
	pub  *rsa.PublicKey
	hash []byte
}

type rsaPrivateKey struct {
	priv   *rsa.PrivateKey
	public *rsaPublicKey
}

func newRSAPublicKey(pub *rsa.PublicKey) *rsaPublicKey {
	e := big.NewInt(int64(pub.E))
	return &rsaPublicKey{
		pub:  pub,
		hash: computeKeyHash(stripLeadingZeros(pub.N.Bytes()), stripLeadingZeros(e.Bytes())),
	}
}

func newRSAPrivateKey(priv *rsa.PrivateKey) *rsaPrivateKey {
	pubCopy := &rsa.PublicKey{N: new(big.Int).Set(priv.N), E: priv.E}
	return &rsaPrivateKey{priv: priv, public: newRSAPublicKey(pubCopy)}
}

func generateRSAKey(size int) (Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, size)
	if err != nil {
		return nil, err
	}
	return newRSAPrivateKey(priv), nil
}

func parseRSAPrivateKey(data []byte) (Key, error) {
	var j rsaPrivateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	der, err := base64.RawURLEncoding.DecodeString(j.PKCS8)
	if err != nil {
		return nil, err
	}
	defer Zeroize(der)
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("PKCS#8 payload holds %T, not an RSA key", parsed))
	}
	return newRSAPrivateKey(priv), nil
}

func parseRSAPublicKey(data []byte) (Key, error) {
	var j rsaPublicJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	der, err := base64.RawURLEncoding.DecodeString(j.PKIX)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("PKIX payload holds %T, not an RSA key", parsed))
	}
	return newRSAPublicKey(pub), nil
}

func (k *rsaPublicKey) Type() KeyType { return KeyTypeRSAPub }
func (k *rsaPublicKey) Size() int     { return k.pub.N.BitLen() }
func (k *rsaPublicKey) Hash() []byte  { return k.hash }
func (k *rsaPublicKey) Destroy()      {}

func (k *rsaPublicKey) Marshal() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.pub)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rsaPublicJSON{PKIX: base64.RawURLEncoding.EncodeToString(der), Size: k.Size()})
}

// rsaBlockSize is the plaintext capacity of one OAEP-SHA256 block for pub.
func rsaBlockSize(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// rsaBlockLabel binds a block to the ciphertext header, its position and the
// total block count so blocks cannot be reordered, dropped or spliced.
func rsaBlockLabel(header []byte, index, count int) []byte {
	label := make([]byte, 0, len(header)+8)
	label = append(label, header...)
	label = binary.BigEndian.AppendUint32(label, uint32(index)) // #nosec G115 -- bounded by payload length
	return binary.BigEndian.AppendUint32(label, uint32(count))  // #nosec G115 -- bounded by payload length
}

// Encrypt applies RSA-OAEP-SHA256. Plaintexts longer than one OAEP block are
// split into blocks of at most k-2*hLen-2 bytes, and the output is the
// concatenation of modulus-sized ciphertext blocks. An empty plaintext still
// yields one block.
func (k *rsaPublicKey) Encrypt(header, plaintext []byte) ([]byte, error) {
	chunk := rsaBlockSize(k.pub)
	if chunk <= 0 {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("RSA modulus of %d bits is too small for OAEP-SHA256", k.Size()))
	}
	count := (len(plaintext) + chunk - 1) / chunk
	if count == 0 {
		count = 1
	}
	out := make([]byte, 0, count*k.pub.Size())
	for i := 0; i < count; i++ {
		end := min((i+1)*chunk, len(plaintext))
		block, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, k.pub, plaintext[i*chunk:end], rsaBlockLabel(header, i, count))
		if err != nil {
			return nil, wrapError(ErrInvalidKeyType, err, ErrCodeInvalidKeyType,
				fmt.Sprintf("RSA-OAEP encryption of block %d failed", i))
		}
		out = append(out, block...)
	}
	return out, nil
}

func (k *rsaPublicKey) Verify(data, signature []byte) (bool, error) {
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(k.pub, crypto.SHA256, digest[:], signature, rsaPSSOptions) == nil, nil
}

func (k *rsaPrivateKey) Type() KeyType  { return KeyTypeRSAPriv }
func (k *rsaPrivateKey) Size() int      { return k.public.Size() }
func (k *rsaPrivateKey) Hash() []byte   { return k.public.hash }
func (k *rsaPrivateKey) PublicKey() Key { return newRSAPublicKey(&rsa.PublicKey{N: new(big.Int).Set(k.priv.N), E: k.priv.E}) }

func (k *rsaPrivateKey) Marshal() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, err
	}
	defer Zeroize(der)
	return json.Marshal(rsaPrivateJSON{PKCS8: base64.RawURLEncoding.EncodeToString(der), Size: k.Size()})
}

// Destroy clears the private exponent and primes.
func (k *rsaPrivateKey) Destroy() {
	k.priv.D.SetInt64(0)
	for _, p := range k.priv.Primes {
		p.SetInt64(0)
	}
}

func (k *rsaPrivateKey) Encrypt(header, plaintext []byte) ([]byte, error) {
	return k.public.Encrypt(header, plaintext)
}

// Decrypt reverses Encrypt. The payload must be a non-empty whole number of
// modulus-sized blocks.
func (k *rsaPrivateKey) Decrypt(header, payload []byte) ([]byte, error) {
	size := k.priv.Size()
	if len(payload) == 0 || len(payload)%size != 0 {
		return nil, newError(ErrValidationFailed, ErrCodeDecrypt,
			fmt.Sprintf("RSA payload of %d bytes is not a multiple of the %d-byte block size", len(payload), size))
	}
	count := len(payload) / size
	pt := make([]byte, 0, count*rsaBlockSize(&k.priv.PublicKey))
	for i := 0; i < count; i++ {
		block, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, payload[i*size:(i+1)*size], rsaBlockLabel(header, i, count))
		if err != nil {
			Zeroize(pt)
			return nil, wrapError(ErrValidationFailed, err, ErrCodeDecrypt,
				fmt.Sprintf("RSA-OAEP decryption of block %d failed", i))
		}
		pt = append(pt, block...)
		Zeroize(block)
	}
	return pt, nil
}

func (k *rsaPrivateKey) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, k.priv, crypto.SHA256, digest[:], rsaPSSOptions)
}

func (k *rsaPrivateKey) Verify(data, signature []byte) (bool, error) {
	return k.public.Verify(data, signature)
}
