// export.go: PEM export and import of asymmetric keys.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

const (
	pemPrivateKey = "PRIVATE KEY"
	pemPublicKey  = "PUBLIC KEY"
)

// ExportPrimaryPEM returns the Primary key of ks as a PKCS#8 "PRIVATE KEY"
// PEM block. Only RSA and ECDSA private key sets can be exported; every other
// type is ErrInvalidKeyType. The caller should Zeroize the result.
func ExportPrimaryPEM(ks *KeySet) ([]byte, error) {
	k, err := ks.primary()
	if err != nil {
		return nil, err
	}
	var der []byte
	switch pk := k.(type) {
	case *rsaPrivateKey:
		der, err = x509.MarshalPKCS8PrivateKey(pk.priv)
	case *ecdsaPrivateKey:
		der, err = x509.MarshalPKCS8PrivateKey(pk.priv)
	default:
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("%s keys cannot be exported as PKCS#8", k.Type()))
	}
	if err != nil {
		return nil, wrapError(ErrInvalidKeyType, err, ErrCodeSerialization, "failed to encode PKCS#8")
	}
	defer Zeroize(der)
	logFor("ExportPrimaryPEM").WithField("name", ks.Name()).WithField("hash", KeyFingerprint(k)).
		Warn("exported private key")
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}), nil
}

// ExportPublicPEM returns the public half of the Primary key of ks as a PKIX
// "PUBLIC KEY" PEM block. ks may hold RSA or ECDSA private or public keys.
func ExportPublicPEM(ks *KeySet) ([]byte, error) {
	k, err := ks.primary()
	if err != nil {
		return nil, err
	}
	if pk, ok := k.(PrivateKey); ok {
		k = pk.PublicKey()
	}
	var pub interface{}
	switch pk := k.(type) {
	case *rsaPublicKey:
		pub = pk.pub
	case *ecdsaPublicKey:
		pub = pk.pub
	default:
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("%s keys cannot be exported as PKIX", ks.Type()))
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, wrapError(ErrInvalidKeyType, err, ErrCodeSerialization, "failed to encode PKIX")
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der}), nil
}

// ImportPEM parses a PKCS#8 private key or PKIX public key PEM block into a
// Key suitable for MutableKeySet.ImportKey.
func ImportPEM(data []byte) (Key, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, newError(ErrUnsupportedFormat, ErrCodeUnsupportedFormat, "no PEM block found")
	}
	defer Zeroize(block.Bytes)
	switch block.Type {
	case pemPrivateKey:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, wrapError(ErrUnsupportedFormat, err, ErrCodeSerialization, "malformed PKCS#8 key")
		}
		switch priv := parsed.(type) {
		case *rsa.PrivateKey:
			return newRSAPrivateKey(priv), nil
		case *ecdsa.PrivateKey:
			k, err := newECDSAPrivateKey(priv)
			if err != nil {
				return nil, err
			}
			return k, nil
		}
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("unsupported private key %T", parsed))
	case pemPublicKey:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, wrapError(ErrUnsupportedFormat, err, ErrCodeSerialization, "malformed PKIX key")
		}
		switch pub := parsed.(type) {
		case *rsa.PublicKey:
			return newRSAPublicKey(pub), nil
		case *ecdsa.PublicKey:
			k, err := newECDSAPublicKey(pub)
			if err != nil {
				return nil, err
			}
			return k, nil
		}
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("unsupported public key %T", parsed))
	default:
		return nil, newError(ErrUnsupportedFormat, ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported PEM type %q", block.Type))
	}
}
