// encrypted.go: Key sets whose key data is encrypted by another key set.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"fmt"
)

// EncryptedWriter encrypts each key version with another key set's Encrypter
// before delegating, and flags the metadata as encrypted. The wrapped key is
// stored as web-safe base64 text. Atomicity is that of the wrapped writer.
type EncryptedWriter struct {
	inner     KeySetWriter
	encrypter *Encrypter
}

// NewEncryptedWriter wraps inner with encrypter.
//
// Example:
//
//	master, _ := keyczar.NewCrypter(masterKeySet)
//	w := keyczar.NewEncryptedWriter(storage.NewFileWriter(dir, nil), &master.Encrypter)
//	err := mks.Save(ctx, w)
func NewEncryptedWriter(inner KeySetWriter, encrypter *Encrypter) *EncryptedWriter {
	return &EncryptedWriter{inner: inner, encrypter: encrypter}
}

// WriteMetadata implements KeySetWriter.
func (w *EncryptedWriter) WriteMetadata(ctx context.Context, meta *KeyMetadata) error {
	m := meta.Clone()
	m.Encrypted = true
	return w.inner.WriteMetadata(ctx, m)
}

// Write implements KeySetWriter.
func (w *EncryptedWriter) Write(ctx context.Context, keyData []byte, version int) error {
	if w.encrypter == nil {
		return newError(ErrWriterFailed, ErrCodeWriter, "no key set encrypter configured")
	}
	ct, err := w.encrypter.Encrypt(keyData)
	if err != nil {
		return err
	}
	return w.inner.Write(ctx, []byte(EncodeWebSafe(ct)), version)
}

// Finish implements KeySetWriter.
func (w *EncryptedWriter) Finish(ctx context.Context) error { return w.inner.Finish(ctx) }

// Discard implements KeySetWriter.
func (w *EncryptedWriter) Discard(ctx context.Context) error { return w.inner.Discard(ctx) }

// RequiresFullRewrite forwards the wrapped writer's answer.
func (w *EncryptedWriter) RequiresFullRewrite() bool { return requiresFullRewrite(w.inner) }

// EncryptedReader decrypts key data written by an EncryptedWriter.
type EncryptedReader struct {
	inner   KeySetReader
	crypter *Crypter
}

// NewEncryptedReader wraps inner with crypter.
func NewEncryptedReader(inner KeySetReader, crypter *Crypter) *EncryptedReader {
	return &EncryptedReader{inner: inner, crypter: crypter}
}

// Metadata implements KeySetReader. The metadata must be flagged encrypted.
func (r *EncryptedReader) Metadata(ctx context.Context) (*KeyMetadata, error) {
	return encryptedMetadata(ctx, r.inner)
}

// KeyData implements KeySetReader.
func (r *EncryptedReader) KeyData(ctx context.Context, version int) ([]byte, error) {
	if r.crypter == nil {
		return nil, newError(ErrInvalidKeySet, ErrCodeReader, "no key set crypter configured")
	}
	data, err := r.inner.KeyData(ctx, version)
	if err != nil {
		return nil, err
	}
	ct, err := DecodeWebSafe(string(data))
	if err != nil {
		return nil, wrapError(ErrInvalidKeySet, err, ErrCodeSerialization,
			fmt.Sprintf("key version %d is not a web-safe ciphertext", version))
	}
	return r.crypter.Decrypt(ct)
}

// DecryptsKeyData implements DecryptingReader.
func (r *EncryptedReader) DecryptsKeyData() bool { return true }
