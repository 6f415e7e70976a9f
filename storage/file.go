// file.go: Local directory key set backend with staged, atomic commits.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agilira/keyczar"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// FileReader reads a key set from a local directory holding "meta" and one
// file per version.
type FileReader struct {
	dir string
	log *logrus.Entry
}

// NewFileReader returns a reader over dir. log may be nil.
func NewFileReader(dir string, log *logrus.Entry) *FileReader {
	return &FileReader{dir: dir, log: entryOrDefault(log, "file").WithField("dir", dir)}
}

// Metadata implements keyczar.KeySetReader.
func (r *FileReader) Metadata(_ context.Context) (*keyczar.KeyMetadata, error) {
	data, err := r.read(MetaName)
	if err != nil {
		return nil, err
	}
	return keyczar.ParseMetadata(data)
}

// KeyData implements keyczar.KeySetReader.
func (r *FileReader) KeyData(_ context.Context, version int) ([]byte, error) {
	return r.read(versionName(version))
}

func (r *FileReader) read(name string) ([]byte, error) {
	path := filepath.Join(r.dir, name)
	// #nosec G304 -- path is the configured key set directory plus a record name
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("%s not found in %s", name, r.dir))
		}
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to read %s", path))
	}
	return b, nil
}

// FileOptions configures a FileWriter.
type FileOptions struct {
	// CreateOnly makes Finish fail with ErrExists when the directory already
	// holds a key set.
	CreateOnly bool
	// Logger receives commit and rollback entries. Nil uses the logrus
	// standard logger.
	Logger *logrus.Entry
}

// FileWriter stages records as "<name>.<uuid>.temp" files next to their
// targets and renames them into place on Finish. Targets replaced by a commit
// are backed up first and restored if any rename fails.
//
// Key files of revoked versions are not deleted; the metadata no longer
// references them.
type FileWriter struct {
	dir        string
	createOnly bool
	log        *logrus.Entry

	mu     sync.Mutex
	staged map[string]string // record name -> temp path
}

// NewFileWriter returns a writer into dir, created with mode 0700 if needed.
// opts may be nil.
func NewFileWriter(dir string, opts *FileOptions) *FileWriter {
	if opts == nil {
		opts = &FileOptions{}
	}
	return &FileWriter{
		dir:        dir,
		createOnly: opts.CreateOnly,
		log:        entryOrDefault(opts.Logger, "file").WithField("dir", dir),
		staged:     make(map[string]string),
	}
}

// WriteMetadata implements keyczar.KeySetWriter.
func (w *FileWriter) WriteMetadata(_ context.Context, meta *keyczar.KeyMetadata) error {
	data, err := meta.Marshal()
	if err != nil {
		return err
	}
	return w.stage(MetaName, data)
}

// Write implements keyczar.KeySetWriter.
func (w *FileWriter) Write(_ context.Context, keyData []byte, version int) error {
	return w.stage(versionName(version), keyData)
}

func (w *FileWriter) stage(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, dirPerm); err != nil {
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to create %s", w.dir))
	}
	temp := filepath.Join(w.dir, fmt.Sprintf("%s.%s.temp", name, uuid.NewString()))
	// #nosec G304 -- temp path is generated under the key set directory
	f, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to stage %s", name))
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(temp)
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to stage %s", name))
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(temp)
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to sync %s", name))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(temp)
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to close %s", name))
	}

	// A record staged twice keeps only the last write.
	if prev, ok := w.staged[name]; ok {
		_ = os.Remove(prev)
	}
	w.staged[name] = temp
	return nil
}

// Finish implements keyczar.KeySetWriter. Key files are committed before the
// metadata so a reader never sees metadata naming a missing version.
func (w *FileWriter) Finish(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	start := time.Now()

	if w.createOnly {
		if _, err := os.Stat(filepath.Join(w.dir, MetaName)); err == nil {
			w.discardLocked()
			return newError(ErrExists, ErrCodeExists, fmt.Sprintf("a key set already exists in %s", w.dir))
		}
	}

	names := make([]string, 0, len(w.staged))
	for name := range w.staged {
		if name != MetaName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := w.staged[MetaName]; ok {
		names = append(names, MetaName)
	}

	type committed struct{ target, backup string }
	var done []committed
	rollback := func() error {
		var errs []error
		for i := len(done) - 1; i >= 0; i-- {
			c := done[i]
			if c.backup != "" {
				errs = append(errs, os.Rename(c.backup, c.target))
			} else {
				errs = append(errs, os.Remove(c.target))
			}
		}
		return errors.Join(errs...)
	}

	for _, name := range names {
		target := filepath.Join(w.dir, name)
		var backup string
		if _, err := os.Stat(target); err == nil {
			backup = fmt.Sprintf("%s.%s.bak", target, uuid.NewString())
			if err := os.Rename(target, backup); err != nil {
				rbErr := rollback()
				w.discardLocked()
				return wrapError(ErrBackendUnavailable, errors.Join(err, rbErr), ErrCodeIO,
					fmt.Sprintf("failed to back up %s", target))
			}
		}
		if err := os.Rename(w.staged[name], target); err != nil {
			if backup != "" {
				_ = os.Rename(backup, target)
			}
			rbErr := rollback()
			w.discardLocked()
			w.log.WithError(err).WithField("record", name).Warn("commit failed, rolled back")
			return wrapError(ErrBackendUnavailable, errors.Join(err, rbErr), ErrCodeIO,
				fmt.Sprintf("failed to commit %s", target))
		}
		done = append(done, committed{target: target, backup: backup})
	}

	for _, c := range done {
		if c.backup != "" {
			if err := os.Remove(c.backup); err != nil {
				w.log.WithError(err).WithField("backup", c.backup).Warn("failed to remove backup")
			}
		}
	}
	w.staged = make(map[string]string)
	w.log.WithFields(logrus.Fields{"records": len(done), "duration": time.Since(start)}).Debug("key set committed")
	return nil
}

// Discard implements keyczar.KeySetWriter.
func (w *FileWriter) Discard(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.discardLocked()
}

func (w *FileWriter) discardLocked() error {
	var errs []error
	for name, temp := range w.staged {
		if err := os.Remove(temp); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	w.staged = make(map[string]string)
	if err := errors.Join(errs...); err != nil {
		return wrapError(ErrBackendUnavailable, err, ErrCodeIO, "failed to remove staged files")
	}
	return nil
}
