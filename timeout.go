// timeout.go: Expiring signatures.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"encoding/binary"
	"time"
)

// expirySize is the width of the big-endian epoch-millisecond expiry.
const expirySize = 8

// TimeoutSigner produces signatures that stop verifying after an expiry time:
// [header][expiry ms u64][signature], where the signature covers
// expiry || message || FormatVersion.
type TimeoutSigner struct {
	signer *Signer
}

// NewTimeoutSigner returns a TimeoutSigner over ks.
func NewTimeoutSigner(ks *KeySet) (*TimeoutSigner, error) {
	s, err := NewSigner(ks)
	if err != nil {
		return nil, err
	}
	return &TimeoutSigner{signer: s}, nil
}

// Sign signs message with an embedded expiry.
func (t *TimeoutSigner) Sign(message []byte, expiry time.Time) ([]byte, error) {
	k, header, err := t.signer.primarySigner()
	if err != nil {
		return nil, err
	}
	ms := expiry.UnixMilli()
	buf := timeoutSignedData(ms, message)
	defer putBuffer(buf)
	sig, err := k.Sign(*buf)
	if err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeSign, "signing failed")
	}
	out := make([]byte, 0, len(header)+expirySize+len(sig))
	out = append(out, header...)
	out = binary.BigEndian.AppendUint64(out, uint64(ms)) // #nosec G115 -- round-trips through int64 on verify
	return append(out, sig...), nil
}

// SignFor signs message with an expiry of ttl from the signer's clock.
func (t *TimeoutSigner) SignFor(message []byte, ttl time.Duration, clock Clock) ([]byte, error) {
	if clock == nil {
		clock = DefaultClock()
	}
	return t.Sign(message, clock.Now().Add(ttl))
}

// TimeoutVerifier checks TimeoutSigner output against a Clock.
type TimeoutVerifier struct {
	ks    *KeySet
	clock Clock
}

// NewTimeoutVerifier returns a TimeoutVerifier over ks. A nil clock uses
// DefaultClock.
func NewTimeoutVerifier(ks *KeySet, clock Clock) (*TimeoutVerifier, error) {
	if err := checkPurpose(ks, "verify", KeyPurpose.canVerify); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = DefaultClock()
	}
	return &TimeoutVerifier{ks: ks, clock: clock}, nil
}

// Verify reports whether signature is valid for message and not expired. A
// signature whose expiry is earlier than the clock's current time is
// (false, nil) even when it is cryptographically valid.
func (t *TimeoutVerifier) Verify(message, signature []byte) (bool, error) {
	env, err := openEnvelope(t.ks, signature)
	if err != nil {
		return false, err
	}
	if len(env.payload) < expirySize {
		return false, nil
	}
	ms := int64(binary.BigEndian.Uint64(env.payload[:expirySize])) // #nosec G115 -- written from int64
	if t.clock.Now().UnixMilli() > ms {
		logFor("TimeoutVerifier.Verify").WithField("name", t.ks.Name()).WithField("expiry", ms).
			Debug("signature expired")
		return false, nil
	}
	buf := timeoutSignedData(ms, message)
	defer putBuffer(buf)
	return env.verifyWith(*buf, env.payload[expirySize:])
}

// timeoutSignedData returns expiry || message || FormatVersion.
func timeoutSignedData(ms int64, message []byte) *[]byte {
	buf := getBuffer(expirySize + len(message) + 1)
	b := *buf
	binary.BigEndian.PutUint64(b, uint64(ms)) // #nosec G115 -- two's complement round trip
	copy(b[expirySize:], message)
	b[len(b)-1] = FormatVersion
	return buf
}
