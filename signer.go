// signer.go: Envelope signatures over a key set.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"fmt"
)

// Verifier checks signatures made by a Signer of the same key set, or of the
// private key set it was projected from.
type Verifier struct {
	ks *KeySet
}

// NewVerifier returns a Verifier over ks. The key set must have purpose
// VERIFY or SIGN_AND_VERIFY.
func NewVerifier(ks *KeySet) (*Verifier, error) {
	if err := checkPurpose(ks, "verify", KeyPurpose.canVerify); err != nil {
		return nil, err
	}
	return &Verifier{ks: ks}, nil
}

// KeySet returns the underlying key set.
func (v *Verifier) KeySet() *KeySet { return v.ks }

// Verify reports whether signature is a valid signature of message. A
// mismatch or tampered payload is (false, nil); a header naming no key in the
// set is ErrKeyNotFound, and a malformed header is ErrShortInput or
// ErrUnsupportedFormat.
//
// A Signer over a SIGN-only key set fails here with ErrInvalidPurpose.
func (v *Verifier) Verify(message, signature []byte) (bool, error) {
	if err := checkPurpose(v.ks, "verify", KeyPurpose.canVerify); err != nil {
		return false, err
	}
	env, err := openEnvelope(v.ks, signature)
	if err != nil {
		return false, err
	}
	buf := plainSignedData(message)
	defer putBuffer(buf)
	return env.verifyWith(*buf, env.payload)
}

// VerifyString verifies a web-safe base64 signature over a UTF-8 message.
func (v *Verifier) VerifyString(message, signature string) (bool, error) {
	sig, err := DecodeWebSafe(signature)
	if err != nil {
		return false, err
	}
	return v.Verify([]byte(message), sig)
}

// Signer signs with the Primary key. It requires purpose SIGN or SIGN_AND_VERIFY.
// Only SIGN_AND_VERIFY signers can also verify.
type Signer struct {
	Verifier
}

// NewSigner returns a Signer over ks.
func NewSigner(ks *KeySet) (*Signer, error) {
	if err := checkPurpose(ks, "sign", KeyPurpose.canSign); err != nil {
		return nil, err
	}
	return &Signer{Verifier{ks: ks}}, nil
}

// Sign returns [FormatVersion][key hash][signature] for message.
//
// Example:
//
//	signer, _ := keyczar.NewSigner(ks)
//	sig, err := signer.Sign([]byte("transfer 10 EUR"))
func (s *Signer) Sign(message []byte) ([]byte, error) {
	k, header, err := s.primarySigner()
	if err != nil {
		return nil, err
	}
	buf := plainSignedData(message)
	defer putBuffer(buf)
	sig, err := k.Sign(*buf)
	if err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeSign, "signing failed")
	}
	out := make([]byte, 0, len(header)+len(sig))
	out = append(out, header...)
	return append(out, sig...), nil
}

// SignString signs the UTF-8 bytes of message and returns web-safe base64.
func (s *Signer) SignString(message string) (string, error) {
	sig, err := s.Sign([]byte(message))
	if err != nil {
		return "", err
	}
	return EncodeWebSafe(sig), nil
}

// primarySigner returns the Primary key as Signable with its header.
func (s *Signer) primarySigner() (Signable, []byte, error) {
	k, err := s.ks.primary()
	if err != nil {
		return nil, nil, err
	}
	signable, ok := k.(Signable)
	if !ok {
		return nil, nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("%s keys cannot sign", k.Type()))
	}
	return signable, makeHeader(k), nil
}

// plainSignedData returns message || FormatVersion in a pooled buffer.
func plainSignedData(message []byte) *[]byte {
	buf := getBuffer(len(message) + 1)
	copy(*buf, message)
	(*buf)[len(message)] = FormatVersion
	return buf
}
