// errors.go: Error taxonomy for key sets, envelopes and writer chains.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"errors"
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

// Public sentinel errors. Every error returned by this package wraps exactly one
// of them, so callers can dispatch with errors.Is while the wrapped go-errors
// value carries a stable code for auditing.
var (
	// ErrInvalidKeySet is returned for structural violations: more than one
	// Primary version, duplicate or non-positive version numbers, a purpose that
	// the key type cannot serve, or non-empty metadata given to an empty-set constructor.
	ErrInvalidKeySet = errors.New("keyczar: invalid key set")

	// ErrMissingPrimaryKey is returned when encrypt or sign is attempted on a key
	// set without a Primary version.
	ErrMissingPrimaryKey = errors.New("keyczar: missing primary key")

	// ErrInvalidKeyType is returned when an export or projection is requested on
	// a key type that does not support it.
	ErrInvalidKeyType = errors.New("keyczar: invalid key type")

	// ErrKeyNotFound is returned when an envelope key hash matches no key in the set.
	ErrKeyNotFound = errors.New("keyczar: key not found")

	// ErrValidationFailed is returned when candidate keys exist but none of them
	// authenticates the ciphertext or signature.
	ErrValidationFailed = errors.New("keyczar: validation failed")

	// ErrUnsupportedFormat is returned when the envelope format version byte is unknown.
	ErrUnsupportedFormat = errors.New("keyczar: unsupported format version")

	// ErrShortInput is returned when input is too short to contain an envelope
	// header, or when a stream decryptor is read after Close.
	ErrShortInput = errors.New("keyczar: input too short")

	// ErrInvalidPurpose is returned when a key set is used for an operation its
	// purpose does not allow.
	ErrInvalidPurpose = errors.New("keyczar: purpose not allowed")

	// ErrWriterFailed is returned when a key set writer could not commit or an
	// encrypted stream could not be written to its destination.
	ErrWriterFailed = errors.New("keyczar: key set writer failed")

	// ErrKeyGeneration is returned when key material or randomness cannot be produced.
	ErrKeyGeneration = errors.New("keyczar: key generation failed")

	// ErrPasswordRequired is returned when a password-protected key set is
	// accessed without a usable password.
	ErrPasswordRequired = errors.New("keyczar: password required")
)

// Error codes for rich error handling
const (
	ErrCodeInvalidKeySet     = "KEYCZAR_INVALID_KEYSET"
	ErrCodeMissingPrimary    = "KEYCZAR_MISSING_PRIMARY"
	ErrCodeInvalidKeyType    = "KEYCZAR_INVALID_KEY_TYPE"
	ErrCodeKeyNotFound       = "KEYCZAR_KEY_NOT_FOUND"
	ErrCodeValidation        = "KEYCZAR_VALIDATION_FAILED"
	ErrCodeUnsupportedFormat = "KEYCZAR_UNSUPPORTED_FORMAT"
	ErrCodeShortInput        = "KEYCZAR_SHORT_INPUT"
	ErrCodeInvalidPurpose    = "KEYCZAR_INVALID_PURPOSE"
	ErrCodeWriter            = "KEYCZAR_WRITER"
	ErrCodeReader            = "KEYCZAR_READER"
	ErrCodePassword          = "KEYCZAR_PASSWORD"
	ErrCodeKeyGeneration     = "KEYCZAR_KEY_GENERATION"
	ErrCodeSerialization     = "KEYCZAR_SERIALIZATION"
	ErrCodeRandom            = "KEYCZAR_RANDOM"
	ErrCodeSign              = "KEYCZAR_SIGN"
)

// newError joins a sentinel with a coded go-errors value.
func newError(sentinel error, code goerrors.ErrorCode, msg string) error {
	richErr := goerrors.New(code, msg)
	return fmt.Errorf("%w: %w", sentinel, richErr)
}

// wrapError is newError for an underlying cause.
func wrapError(sentinel, cause error, code goerrors.ErrorCode, msg string) error {
	richErr := goerrors.Wrap(cause, code, msg)
	return fmt.Errorf("%w: %w", sentinel, richErr)
}

// ErrorCode returns the code carried by err, or "" when err holds no coded
// value. errors.Unwrap cannot see through the joined sentinel, so use this
// instead of goerrors.HasCode.
func ErrorCode(err error) goerrors.ErrorCode {
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich.Code
	}
	return ""
}
