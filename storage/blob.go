// blob.go: Zip archive key set backend.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/agilira/keyczar"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxEntrySize bounds a single archive entry.
const maxEntrySize = 1 << 20

// BlobReader reads a key set from a zip archive with one entry per record.
type BlobReader struct {
	zr  *zip.Reader
	log *logrus.Entry
}

// NewBlobReader opens the archive in r of the given size. log may be nil.
func NewBlobReader(r io.ReaderAt, size int64, log *logrus.Entry) (*BlobReader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeFormat, "not a key set archive")
	}
	return &BlobReader{zr: zr, log: entryOrDefault(log, "zip")}, nil
}

// OpenBlobFile reads the archive at path into memory and returns a reader over it.
func OpenBlobFile(path string, log *logrus.Entry) (*BlobReader, error) {
	// #nosec G304 -- path is the configured archive location
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("archive %s not found", path))
		}
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to read %s", path))
	}
	return NewBlobReader(bytes.NewReader(data), int64(len(data)), entryOrDefault(log, "zip").WithField("path", path))
}

// Metadata implements keyczar.KeySetReader.
func (r *BlobReader) Metadata(_ context.Context) (*keyczar.KeyMetadata, error) {
	data, err := r.read(MetaName)
	if err != nil {
		return nil, err
	}
	return keyczar.ParseMetadata(data)
}

// KeyData implements keyczar.KeySetReader.
func (r *BlobReader) KeyData(_ context.Context, version int) ([]byte, error) {
	return r.read(versionName(version))
}

func (r *BlobReader) read(name string) ([]byte, error) {
	f, err := r.zr.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("archive has no %s entry", name))
		}
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeFormat, fmt.Sprintf("failed to open entry %s", name))
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxEntrySize+1))
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeFormat, fmt.Sprintf("failed to read entry %s", name))
	}
	if len(data) > maxEntrySize {
		return nil, newError(ErrBackendUnavailable, ErrCodeFormat, fmt.Sprintf("entry %s exceeds %d bytes", name, maxEntrySize))
	}
	return data, nil
}

// BlobWriter collects a key set in memory and writes it as a zip archive on
// Finish. An archive cannot be patched, so it asks for a full rewrite on
// every save.
type BlobWriter struct {
	sink func(data []byte) error
	log  *logrus.Entry

	mu     sync.Mutex
	staged map[string][]byte
}

// NewBlobWriter returns a writer that emits the archive to w on Finish.
func NewBlobWriter(w io.Writer, log *logrus.Entry) *BlobWriter {
	return newBlobWriter(func(data []byte) error {
		_, err := w.Write(data)
		return err
	}, entryOrDefault(log, "zip"))
}

// NewBlobFileWriter returns a writer that replaces the archive at path on
// Finish through a temporary file and a rename.
func NewBlobFileWriter(path string, log *logrus.Entry) *BlobWriter {
	return newBlobWriter(func(data []byte) error {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return err
		}
		temp := fmt.Sprintf("%s.%s.temp", path, uuid.NewString())
		if err := os.WriteFile(temp, data, filePerm); err != nil {
			_ = os.Remove(temp)
			return err
		}
		if err := os.Rename(temp, path); err != nil {
			_ = os.Remove(temp)
			return err
		}
		return nil
	}, entryOrDefault(log, "zip").WithField("path", path))
}

func newBlobWriter(sink func([]byte) error, log *logrus.Entry) *BlobWriter {
	return &BlobWriter{sink: sink, log: log, staged: make(map[string][]byte)}
}

// WriteMetadata implements keyczar.KeySetWriter.
func (w *BlobWriter) WriteMetadata(_ context.Context, meta *keyczar.KeyMetadata) error {
	data, err := meta.Marshal()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged[MetaName] = data
	return nil
}

// Write implements keyczar.KeySetWriter.
func (w *BlobWriter) Write(_ context.Context, keyData []byte, version int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged[versionName(version)] = append([]byte(nil), keyData...)
	return nil
}

// Finish implements keyczar.KeySetWriter.
func (w *BlobWriter) Finish(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.clearLocked()

	if _, ok := w.staged[MetaName]; !ok {
		return newError(ErrBackendUnavailable, ErrCodeFormat, "archive needs metadata")
	}
	versions := make([]int, 0, len(w.staged))
	for name := range w.staged {
		if name == MetaName {
			continue
		}
		v, err := strconv.Atoi(name)
		if err != nil {
			return newError(ErrBackendUnavailable, ErrCodeFormat, fmt.Sprintf("unexpected entry %q", name))
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(versions)+1)
	names = append(names, MetaName)
	for _, v := range versions {
		names = append(names, versionName(v))
	}
	for _, name := range names {
		f, err := zw.Create(name)
		if err != nil {
			return wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to add entry %s", name))
		}
		if _, err := f.Write(w.staged[name]); err != nil {
			return wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to write entry %s", name))
		}
	}
	if err := zw.Close(); err != nil {
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, "failed to finalize archive")
	}
	defer keyczar.Zeroize(buf.Bytes())
	if err := w.sink(buf.Bytes()); err != nil {
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, "failed to write archive")
	}
	w.log.WithField("versions", len(versions)).Debug("archive written")
	return nil
}

// Discard implements keyczar.KeySetWriter.
func (w *BlobWriter) Discard(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clearLocked()
	return nil
}

// RequiresFullRewrite implements keyczar.FullRewriteWriter.
func (w *BlobWriter) RequiresFullRewrite() bool { return true }

func (w *BlobWriter) clearLocked() {
	for _, data := range w.staged {
		keyczar.Zeroize(data)
	}
	w.staged = make(map[string][]byte)
}
