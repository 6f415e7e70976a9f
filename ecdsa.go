// ecdsa.go: ECDSA key pair variants over P-256 and P-384.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type ecdsaPrivateJSON struct {
	PKCS8 string `json:"pkcs8"`
	Size  int    `json:"size"`
}

type ecdsaPublicJSON struct {
	PKIX string `json:"pkix"`
	Size int    `json:"size"`
}

type ecdsaPublicKey struct {
	pub  *ecdsa.PublicKey
	hash []byte
}

type ecdsaPrivateKey struct {
	priv   *ecdsa.PrivateKey
	public *ecdsaPublicKey
}

func curveForSize(size int) (elliptic.Curve, error) {
	switch size {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	default:
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("unsupported ECDSA size %d", size))
	}
}

func newECDSAPublicKey(pub *ecdsa.PublicKey) (*ecdsaPublicKey, error) {
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, err
	}
	return &ecdsaPublicKey{pub: pub, hash: computeKeyHash(ecdhPub.Bytes())}, nil
}

func newECDSAPrivateKey(priv *ecdsa.PrivateKey) (*ecdsaPrivateKey, error) {
	pub := priv.PublicKey
	public, err := newECDSAPublicKey(&pub)
	if err != nil {
		return nil, err
	}
	return &ecdsaPrivateKey{priv: priv, public: public}, nil
}

func generateECDSAKey(size int) (Key, error) {
	curve, err := curveForSize(size)
	if err != nil {
		return nil, err
	}
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	return newECDSAPrivateKey(priv)
}

func parseECDSAPrivateKey(data []byte) (Key, error) {
	var j ecdsaPrivateJSON
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
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("PKCS#8 payload holds %T, not an ECDSA key", parsed))
	}
	return newECDSAPrivateKey(priv)
}

func parseECDSAPublicKey(data []byte) (Key, error) {
	var j ecdsaPublicJSON
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
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("PKIX payload holds %T, not an ECDSA key", parsed))
	}
	return newECDSAPublicKey(pub)
}

// ecdsaDigest hashes with SHA-256 for P-256 and SHA-384 for P-384.
func ecdsaDigest(curve elliptic.Curve, data []byte) []byte {
	if curve.Params().BitSize > 256 {
		d := sha512.Sum384(data)
		return d[:]
	}
	d := sha256.Sum256(data)
	return d[:]
}

func (k *ecdsaPublicKey) Type() KeyType { return KeyTypeECDSAPub }
func (k *ecdsaPublicKey) Size() int     { return k.pub.Curve.Params().BitSize }
func (k *ecdsaPublicKey) Hash() []byte  { return k.hash }
func (k *ecdsaPublicKey) Destroy()      {}

func (k *ecdsaPublicKey) Marshal() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.pub)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ecdsaPublicJSON{PKIX: base64.RawURLEncoding.EncodeToString(der), Size: k.Size()})
}

func (k *ecdsaPublicKey) Verify(data, signature []byte) (bool, error) {
	return ecdsa.VerifyASN1(k.pub, ecdsaDigest(k.pub.Curve, data), signature), nil
}

func (k *ecdsaPrivateKey) Type() KeyType { return KeyTypeECDSAPriv }
func (k *ecdsaPrivateKey) Size() int     { return k.public.Size() }
func (k *ecdsaPrivateKey) Hash() []byte  { return k.public.hash }

func (k *ecdsaPrivateKey) PublicKey() Key {
	pub := &ecdsa.PublicKey{Curve: k.priv.Curve, X: k.priv.X, Y: k.priv.Y}
	data, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil
	}
	parsed, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil
	}
	out, err := newECDSAPublicKey(parsed.(*ecdsa.PublicKey))
	if err != nil {
		return nil
	}
	return out
}

func (k *ecdsaPrivateKey) Marshal() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, err
	}
	defer Zeroize(der)
	return json.Marshal(ecdsaPrivateJSON{PKCS8: base64.RawURLEncoding.EncodeToString(der), Size: k.Size()})
}

func (k *ecdsaPrivateKey) Destroy() {
	k.priv.D.SetInt64(0)
}

func (k *ecdsaPrivateKey) Sign(data []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, k.priv, ecdsaDigest(k.priv.Curve, data))
}

func (k *ecdsaPrivateKey) Verify(data, signature []byte) (bool, error) {
	return k.public.Verify(data, signature)
}
