// writer.go: Key set reader and writer boundaries, and the password capability.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"errors"
	"fmt"
)

// KeySetReader is a source of persisted key sets: a local directory, an
// archive, a web endpoint or any other store presenting one metadata record
// plus one opaque blob per version.
type KeySetReader interface {
	// Metadata returns the serialized-and-parsed key set metadata.
	Metadata(ctx context.Context) (*KeyMetadata, error)
	// KeyData returns the serialized key for version.
	KeyData(ctx context.Context, version int) ([]byte, error)
}

// KeySetWriter persists a key set. Implementations stage everything written
// through WriteMetadata and Write and make it visible only on Finish: either
// every artifact of the save is committed, or none is and the previously
// committed state is left untouched. Discard drops whatever was staged.
type KeySetWriter interface {
	WriteMetadata(ctx context.Context, meta *KeyMetadata) error
	Write(ctx context.Context, keyData []byte, version int) error
	Finish(ctx context.Context) error
	Discard(ctx context.Context) error
}

// FullRewriteWriter is implemented by writers that cannot update the metadata
// record alone (archives, encrypting decorators). Save always rewrites every
// key version when RequiresFullRewrite reports true.
type FullRewriteWriter interface {
	RequiresFullRewrite() bool
}

// requiresFullRewrite reports whether w asks for every key on each save.
func requiresFullRewrite(w KeySetWriter) bool {
	if fw, ok := w.(FullRewriteWriter); ok {
		return fw.RequiresFullRewrite()
	}
	return false
}

// DecryptingReader is implemented by reader decorators that unwrap encrypted
// key data (PBEReader, EncryptedReader, HSMReader). Key sets whose metadata
// is flagged encrypted are only loaded through one.
type DecryptingReader interface {
	KeySetReader
	DecryptsKeyData() bool
}

func decryptsKeyData(r KeySetReader) bool {
	dr, ok := r.(DecryptingReader)
	return ok && dr.DecryptsKeyData()
}

// readKeySet loads metadata and every version's key from r. The returned keys
// are indexed by version number; on error the keys parsed so far are destroyed.
func readKeySet(ctx context.Context, r KeySetReader) (*KeyMetadata, map[int]Key, error) {
	if r == nil {
		return nil, nil, newError(ErrInvalidKeySet, ErrCodeReader, "key set reader cannot be nil")
	}
	meta, err := r.Metadata(ctx)
	if err != nil {
		if isKeyczarError(err) {
			return nil, nil, err
		}
		return nil, nil, wrapError(ErrInvalidKeySet, err, ErrCodeReader, "failed to read key set metadata")
	}
	if meta == nil {
		return nil, nil, newError(ErrInvalidKeySet, ErrCodeReader, "key set reader returned no metadata")
	}
	if meta.Encrypted && !decryptsKeyData(r) {
		return nil, nil, newError(ErrPasswordRequired, ErrCodeReader,
			fmt.Sprintf("key set %q is encrypted; read it through a decrypting reader", meta.Name))
	}
	meta = meta.Clone()
	if err := meta.Validate(); err != nil {
		return nil, nil, err
	}
	meta.sortVersions()

	keys := make(map[int]Key, len(meta.Versions))
	for _, v := range meta.Versions {
		data, err := r.KeyData(ctx, v.VersionNumber)
		if err != nil {
			destroyKeys(keys)
			if isKeyczarError(err) {
				return nil, nil, err
			}
			return nil, nil, wrapError(ErrInvalidKeySet, err, ErrCodeReader,
				fmt.Sprintf("failed to read key version %d of %q", v.VersionNumber, meta.Name))
		}
		k, err := ParseKey(meta.Type, data)
		Zeroize(data)
		if err != nil {
			destroyKeys(keys)
			return nil, nil, err
		}
		keys[v.VersionNumber] = k
	}
	return meta, keys, nil
}

func destroyKeys(keys map[int]Key) {
	for _, k := range keys {
		k.Destroy()
	}
}

// isKeyczarError reports whether err already carries one of the package sentinels.
func isKeyczarError(err error) bool {
	for _, s := range []error{
		ErrInvalidKeySet, ErrMissingPrimaryKey, ErrInvalidKeyType, ErrKeyNotFound,
		ErrValidationFailed, ErrUnsupportedFormat, ErrShortInput, ErrInvalidPurpose,
		ErrWriterFailed, ErrKeyGeneration, ErrPasswordRequired,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// PasswordPrompt supplies passwords to password-protected readers and writers.
// confirm is true when a new password is being chosen and the implementation
// should ask twice. The caller owns the returned slice and zeroizes it.
type PasswordPrompt interface {
	Password(ctx context.Context, confirm bool) ([]byte, error)
}

// PasswordFunc adapts a function to PasswordPrompt.
type PasswordFunc func(ctx context.Context, confirm bool) ([]byte, error)

// Password implements PasswordPrompt.
func (f PasswordFunc) Password(ctx context.Context, confirm bool) ([]byte, error) {
	return f(ctx, confirm)
}

// StaticPassword returns a prompt that always answers with a copy of password.
func StaticPassword(password []byte) PasswordPrompt {
	stored := append([]byte(nil), password...)
	return PasswordFunc(func(context.Context, bool) ([]byte, error) {
		return append([]byte(nil), stored...), nil
	})
}
