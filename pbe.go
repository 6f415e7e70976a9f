// pbe.go: Password-based encryption of key data at rest.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	pbeCipherAES256GCM = "AES256_GCM"
	pbeKeySize         = 32
	pbeAADLabel        = "keyczar:pbe:v1"
)

// pbeRecord is the persisted form of a password-wrapped key.
type pbeRecord struct {
	Cipher         string       `json:"cipher"`
	KDF            KDFAlgorithm `json:"kdf"`
	IterationCount int          `json:"iterationCount,omitempty"`
	Argon2         *KDFParams   `json:"argon2,omitempty"`
	Salt           string       `json:"salt"`
	IV             string       `json:"iv"`
	Key            string       `json:"key"`
}

// pbeAAD binds a wrapped key to its version so records cannot be swapped.
func pbeAAD(version int) []byte {
	aad := []byte(pbeAADLabel)
	return binary.BigEndian.AppendUint32(aad, uint32(version)) // #nosec G115 -- version numbers are small positive integers
}

func pbeAEAD(password, salt []byte, params *PBEParams) (cipher.AEAD, error) {
	key, err := DeriveKey(password, salt, pbeKeySize, params)
	if err != nil {
		return nil, err
	}
	defer Zeroize(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapError(ErrInvalidKeyType, err, ErrCodeCipherInit, "failed to create AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, wrapError(ErrInvalidKeyType, err, ErrCodeCipherInit, "failed to create GCM cipher")
	}
	return aead, nil
}

// sealPBE wraps keyData under a key derived from password with a fresh salt.
func sealPBE(password, keyData []byte, version int, params PBEParams) ([]byte, error) {
	salt, err := randomBytes(params.SaltSize)
	if err != nil {
		return nil, err
	}
	aead, err := pbeAEAD(password, salt, &params)
	if err != nil {
		return nil, err
	}
	sealed, err := sealAEAD(aead, pbeAAD(version), keyData)
	if err != nil {
		return nil, err
	}
	rec := pbeRecord{
		Cipher: pbeCipherAES256GCM,
		KDF:    params.KDF,
		Salt:   EncodeWebSafe(salt),
		IV:     EncodeWebSafe(sealed[:aead.NonceSize()]),
		Key:    EncodeWebSafe(sealed[aead.NonceSize():]),
	}
	if params.KDF == KDFArgon2id {
		rec.Argon2 = params.Argon2
	} else {
		rec.IterationCount = params.Iterations
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, wrapError(ErrWriterFailed, err, ErrCodeSerialization, "failed to encode PBE record")
	}
	return data, nil
}

// openPBE reverses sealPBE. A wrong password is ErrValidationFailed.
func openPBE(password, data []byte, version int) ([]byte, error) {
	var rec pbeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, wrapError(ErrInvalidKeySet, err, ErrCodeSerialization, "malformed PBE record")
	}
	if rec.Cipher != pbeCipherAES256GCM {
		return nil, newError(ErrUnsupportedFormat, ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported PBE cipher %q", rec.Cipher))
	}
	salt, err := DecodeWebSafe(rec.Salt)
	if err != nil {
		return nil, err
	}
	iv, err := DecodeWebSafe(rec.IV)
	if err != nil {
		return nil, err
	}
	ct, err := DecodeWebSafe(rec.Key)
	if err != nil {
		return nil, err
	}
	aead, err := pbeAEAD(password, salt, &PBEParams{KDF: rec.KDF, Iterations: rec.IterationCount, Argon2: rec.Argon2})
	if err != nil {
		return nil, err
	}
	return openAEAD(aead, pbeAAD(version), append(iv, ct...))
}

// passwordCache asks a PasswordPrompt once and keeps the answer until Close.
type passwordCache struct {
	mu       sync.Mutex
	prompt   PasswordPrompt
	confirm  bool
	password []byte
}

func (p *passwordCache) get(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.password != nil {
		return p.password, nil
	}
	if p.prompt == nil {
		return nil, newError(ErrPasswordRequired, ErrCodePassword, "no password prompt configured")
	}
	pw, err := p.prompt.Password(ctx, p.confirm)
	if err != nil {
		return nil, wrapError(ErrPasswordRequired, err, ErrCodePassword, "password prompt failed")
	}
	if len(pw) == 0 {
		return nil, newError(ErrPasswordRequired, ErrCodePassword, "empty password")
	}
	p.password = pw
	return pw, nil
}

func (p *passwordCache) wipe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	Zeroize(p.password)
	p.password = nil
}

// PBEWriter encrypts each key version independently under a password before
// delegating to the wrapped writer, and flags the metadata as encrypted.
// Atomicity is that of the wrapped writer.
type PBEWriter struct {
	inner  KeySetWriter
	params PBEParams
	pw     passwordCache
}

// NewPBEWriter wraps inner. The prompt is asked once, with confirm set, on the
// first key written. A nil params selects PBKDF2-HMAC-SHA256 with
// DefaultIterations.
//
// Example:
//
//	w := keyczar.NewPBEWriter(storage.NewFileWriter(dir, nil), keyczar.StaticPassword(pw), nil)
//	defer w.Close()
//	mks.ForceKeyDataChange()
//	err := mks.Save(ctx, w)
func NewPBEWriter(inner KeySetWriter, prompt PasswordPrompt, params *PBEParams) *PBEWriter {
	return &PBEWriter{
		inner:  inner,
		params: params.withDefaults(),
		pw:     passwordCache{prompt: prompt, confirm: true},
	}
}

// WriteMetadata implements KeySetWriter.
func (w *PBEWriter) WriteMetadata(ctx context.Context, meta *KeyMetadata) error {
	m := meta.Clone()
	m.Encrypted = true
	return w.inner.WriteMetadata(ctx, m)
}

// Write implements KeySetWriter.
func (w *PBEWriter) Write(ctx context.Context, keyData []byte, version int) error {
	password, err := w.pw.get(ctx)
	if err != nil {
		return err
	}
	wrapped, err := sealPBE(password, keyData, version, w.params)
	if err != nil {
		return err
	}
	return w.inner.Write(ctx, wrapped, version)
}

// Finish implements KeySetWriter.
func (w *PBEWriter) Finish(ctx context.Context) error { return w.inner.Finish(ctx) }

// Discard implements KeySetWriter.
func (w *PBEWriter) Discard(ctx context.Context) error { return w.inner.Discard(ctx) }

// RequiresFullRewrite forwards the wrapped writer's answer.
func (w *PBEWriter) RequiresFullRewrite() bool { return requiresFullRewrite(w.inner) }

// Close wipes the cached password.
func (w *PBEWriter) Close() error {
	w.pw.wipe()
	return nil
}

// PBEReader unwraps key data written by a PBEWriter.
type PBEReader struct {
	inner KeySetReader
	pw    passwordCache
}

// NewPBEReader wraps inner. The prompt is asked once, without confirm.
func NewPBEReader(inner KeySetReader, prompt PasswordPrompt) *PBEReader {
	return &PBEReader{inner: inner, pw: passwordCache{prompt: prompt}}
}

// Metadata implements KeySetReader. The metadata must be flagged encrypted.
func (r *PBEReader) Metadata(ctx context.Context) (*KeyMetadata, error) {
	return encryptedMetadata(ctx, r.inner)
}

// KeyData implements KeySetReader.
func (r *PBEReader) KeyData(ctx context.Context, version int) ([]byte, error) {
	data, err := r.inner.KeyData(ctx, version)
	if err != nil {
		return nil, err
	}
	password, err := r.pw.get(ctx)
	if err != nil {
		return nil, err
	}
	return openPBE(password, data, version)
}

// DecryptsKeyData implements DecryptingReader.
func (r *PBEReader) DecryptsKeyData() bool { return true }

// Close wipes the cached password.
func (r *PBEReader) Close() error {
	r.pw.wipe()
	return nil
}

// encryptedMetadata reads metadata from inner and checks the encrypted flag.
func encryptedMetadata(ctx context.Context, inner KeySetReader) (*KeyMetadata, error) {
	meta, err := inner.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta != nil && !meta.Encrypted {
		return nil, newError(ErrInvalidKeySet, ErrCodeReader,
			fmt.Sprintf("key set %q is not encrypted", meta.Name))
	}
	return meta, nil
}
