// logging.go: Structured logging helper built on logrus.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerMu   sync.RWMutex
	baseLogger = discardLogger()
)

// discardLogger is the default until SetLogger: the package stays silent
// unless the application opts in.
func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// SetLogger replaces the logrus instance used by the package. Passing nil
// restores the silent default.
//
// Log entries never contain key material, passwords or plaintext; they carry
// key set names, version numbers, key hashes and candidate counts.
func SetLogger(l *logrus.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = discardLogger()
	}
	baseLogger = l
}

// logFor returns an entry tagged with the package and the calling operation.
func logFor(function string) *logrus.Entry {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	return l.WithFields(logrus.Fields{
		"package":  "keyczar",
		"function": function,
	})
}
