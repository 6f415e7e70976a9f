// envelope.go: Envelope header codec and candidate key resolution.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"encoding/hex"
	"fmt"
)

// Envelope layout constants.
const (
	// FormatVersion is the first byte of every versioned ciphertext and signature.
	FormatVersion byte = 0x00
	// HeaderSize is the format version byte followed by the key hash.
	HeaderSize = 1 + KeyHashSize
)

// makeHeader returns [FormatVersion][key hash].
func makeHeader(k Key) []byte {
	h := make([]byte, HeaderSize)
	h[0] = FormatVersion
	copy(h[1:], k.Hash())
	return h
}

// parseHeader splits data into header and payload.
func parseHeader(data []byte) (header, payload []byte, err error) {
	if len(data) < HeaderSize {
		return nil, nil, newError(ErrShortInput, ErrCodeShortInput,
			fmt.Sprintf("input of %d bytes is shorter than the %d-byte header", len(data), HeaderSize))
	}
	if data[0] != FormatVersion {
		return nil, nil, newError(ErrUnsupportedFormat, ErrCodeUnsupportedFormat,
			fmt.Sprintf("unknown format version 0x%02x", data[0]))
	}
	return data[:HeaderSize], data[HeaderSize:], nil
}

// envelope is a parsed header with the keys it may refer to.
type envelope struct {
	header     []byte
	payload    []byte
	candidates []Key
}

// openEnvelope parses data and collects every key of ks matching its hash.
// An empty candidate list is ErrKeyNotFound.
func openEnvelope(ks *KeySet, data []byte) (*envelope, error) {
	header, payload, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	hash := header[1:]
	candidates := ks.candidates(hash)
	if len(candidates) == 0 {
		return nil, newError(ErrKeyNotFound, ErrCodeKeyNotFound,
			fmt.Sprintf("no key with hash %s in key set %q", hex.EncodeToString(hash), ks.meta.Name))
	}
	if len(candidates) > 1 {
		logFor("openEnvelope").WithField("name", ks.meta.Name).WithField("hash", hex.EncodeToString(hash)).
			WithField("candidates", len(candidates)).Debug("key hash collision, trying every candidate")
	}
	return &envelope{header: header, payload: payload, candidates: candidates}, nil
}

// decryptWith tries each candidate in order and returns the first plaintext
// that authenticates. ErrValidationFailed when none does.
func (e *envelope) decryptWith() ([]byte, error) {
	var lastErr error
	for _, k := range e.candidates {
		d, ok := k.(Decryptable)
		if !ok {
			continue
		}
		pt, err := d.Decrypt(e.header, e.payload)
		if err == nil {
			return pt, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, newError(ErrValidationFailed, ErrCodeValidation, "no candidate key can decrypt")
	}
	if isKeyczarError(lastErr) {
		return nil, lastErr
	}
	return nil, wrapError(ErrValidationFailed, lastErr, ErrCodeValidation, "ciphertext failed to authenticate")
}

// verifyWith reports whether any candidate validates signature over data.
func (e *envelope) verifyWith(data, signature []byte) (bool, error) {
	for _, k := range e.candidates {
		v, ok := k.(Verifiable)
		if !ok {
			continue
		}
		valid, err := v.Verify(data, signature)
		if err != nil {
			return false, err
		}
		if valid {
			return true, nil
		}
	}
	return false, nil
}
