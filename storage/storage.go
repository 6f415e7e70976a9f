// storage.go: Shared errors, record names and logging for key set backends.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	goerrors "github.com/agilira/go-errors"
	"github.com/sirupsen/logrus"
)

// Sentinel errors returned by every backend.
var (
	// ErrNotFound is returned when the metadata or a key version is missing.
	ErrNotFound = errors.New("storage: key set record not found")

	// ErrExists is returned when a writer without overwrite would replace a
	// committed key set.
	ErrExists = errors.New("storage: key set already exists")

	// ErrBackendUnavailable is returned when the backend cannot be reached.
	ErrBackendUnavailable = errors.New("storage: backend unavailable")

	// ErrInvalidLocation is returned for malformed or unsupported location URIs.
	ErrInvalidLocation = errors.New("storage: invalid location")
)

// Error codes
const (
	ErrCodeNotFound    = "STORAGE_NOT_FOUND"
	ErrCodeExists      = "STORAGE_EXISTS"
	ErrCodeIO          = "STORAGE_IO"
	ErrCodeUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeLocation    = "STORAGE_LOCATION"
	ErrCodeFormat      = "STORAGE_FORMAT"
)

// MetaName is the record holding the serialized KeyMetadata.
const MetaName = "meta"

// versionName is the record name for a key version.
func versionName(version int) string {
	return strconv.Itoa(version)
}

func newError(sentinel error, code goerrors.ErrorCode, msg string) error {
	return fmt.Errorf("%w: %w", sentinel, goerrors.New(code, msg))
}

func wrapError(sentinel, cause error, code goerrors.ErrorCode, msg string) error {
	return fmt.Errorf("%w: %w", sentinel, goerrors.Wrap(cause, code, msg))
}

// entryOrDefault returns log, or an entry on a logger that discards output.
func entryOrDefault(log *logrus.Entry, backend string) *logrus.Entry {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return log.WithFields(logrus.Fields{"package": "storage", "backend": backend})
}
