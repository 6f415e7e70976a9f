// attached.go: Signatures that carry the signed message.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"encoding/binary"
	"math"
)

// AttachedSigner produces a single unit holding both a message and its
// signature: [header][len(message) u32][message][signature].
//
// An optional secret is bound into the signature input but not stored; the
// verifier must present the same secret.
type AttachedSigner struct {
	signer *Signer
}

// NewAttachedSigner returns an AttachedSigner over ks.
func NewAttachedSigner(ks *KeySet) (*AttachedSigner, error) {
	s, err := NewSigner(ks)
	if err != nil {
		return nil, err
	}
	return &AttachedSigner{signer: s}, nil
}

// Sign embeds message and signs it together with secret (which may be nil).
//
// Example:
//
//	signed, err := as.Sign([]byte(`{"user":42}`), []byte("session-7"))
//	...
//	msg, err := av.VerifiedMessage(signed, []byte("session-7"))
func (a *AttachedSigner) Sign(message, secret []byte) ([]byte, error) {
	if uint64(len(message)) > math.MaxUint32 || uint64(len(secret)) > math.MaxUint32 {
		return nil, newError(ErrShortInput, ErrCodeShortInput, "attached message too large")
	}
	k, header, err := a.signer.primarySigner()
	if err != nil {
		return nil, err
	}
	buf := attachedSignedData(message, secret)
	defer putBuffer(buf)
	sig, err := k.Sign(*buf)
	if err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeSign, "signing failed")
	}
	out := make([]byte, 0, len(header)+4+len(message)+len(sig))
	out = append(out, header...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(message))) // #nosec G115 -- bounded above
	out = append(out, message...)
	return append(out, sig...), nil
}

// AttachedVerifier checks units produced by AttachedSigner.
type AttachedVerifier struct {
	ks *KeySet
}

// NewAttachedVerifier returns an AttachedVerifier over ks.
func NewAttachedVerifier(ks *KeySet) (*AttachedVerifier, error) {
	if err := checkPurpose(ks, "verify", KeyPurpose.canVerify); err != nil {
		return nil, err
	}
	return &AttachedVerifier{ks: ks}, nil
}

// Verify reports whether signed carries a valid signature for its embedded
// message and secret. Invalid signatures and a wrong secret are (false, nil).
func (a *AttachedVerifier) Verify(signed, secret []byte) (bool, error) {
	_, ok, err := a.verify(signed, secret)
	return ok, err
}

// VerifiedMessage verifies signed and returns a copy of the embedded message.
// The message is never returned unless the signature validates; otherwise the
// error wraps ErrValidationFailed.
func (a *AttachedVerifier) VerifiedMessage(signed, secret []byte) ([]byte, error) {
	msg, ok, err := a.verify(signed, secret)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(ErrValidationFailed, ErrCodeValidation, "attached signature does not verify")
	}
	return append([]byte{}, msg...), nil
}

func (a *AttachedVerifier) verify(signed, secret []byte) ([]byte, bool, error) {
	env, err := openEnvelope(a.ks, signed)
	if err != nil {
		return nil, false, err
	}
	p := env.payload
	if len(p) < 4 {
		return nil, false, nil
	}
	msgLen := binary.BigEndian.Uint32(p[:4])
	if uint64(msgLen) > uint64(len(p)-4) {
		return nil, false, nil
	}
	message := p[4 : 4+msgLen]
	signature := p[4+msgLen:]

	buf := attachedSignedData(message, secret)
	defer putBuffer(buf)
	ok, err := env.verifyWith(*buf, signature)
	if err != nil || !ok {
		return nil, false, err
	}
	return message, true, nil
}

// attachedSignedData returns len(message) || message || len(secret) || secret || FormatVersion.
func attachedSignedData(message, secret []byte) *[]byte {
	buf := getBuffer(4 + len(message) + 4 + len(secret) + 1)
	b := *buf
	binary.BigEndian.PutUint32(b, uint32(len(message))) // #nosec G115 -- callers bound lengths
	n := 4 + copy(b[4:], message)
	binary.BigEndian.PutUint32(b[n:], uint32(len(secret))) // #nosec G115 -- callers bound lengths
	n += 4
	n += copy(b[n:], secret)
	b[n] = FormatVersion
	return buf
}
