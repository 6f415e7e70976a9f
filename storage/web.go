// web.go: Read-only HTTP key set backend.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agilira/keyczar"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// WebReader fetches "<base>/meta" and "<base>/<version>" over HTTP(S).
// Transient failures (connection errors, 5xx, 429) are retried with backoff.
type WebReader struct {
	base   string
	client *retryablehttp.Client
	log    *logrus.Entry
}

// WebOptions configures a WebReader.
type WebOptions struct {
	// HTTPClient is the underlying client; nil uses a pooled default.
	HTTPClient *http.Client
	// RetryMax is the number of retries after the first attempt. Negative
	// disables retries; zero uses 3.
	RetryMax int
	// RetryWaitMin bounds the backoff between attempts. Zero uses 100ms.
	RetryWaitMin time.Duration
	// Logger receives fetch entries. Nil uses the logrus standard logger.
	Logger *logrus.Entry
}

// NewWebReader returns a reader for the key set published under base.
// opts may be nil.
func NewWebReader(base string, opts *WebOptions) *WebReader {
	if opts == nil {
		opts = &WebOptions{}
	}
	log := entryOrDefault(opts.Logger, "web").WithField("base", base)

	client := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	switch {
	case opts.RetryMax < 0:
		client.RetryMax = 0
	case opts.RetryMax > 0:
		client.RetryMax = opts.RetryMax
	}
	client.RetryWaitMin = 100 * time.Millisecond
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	client.RetryWaitMax = 10 * client.RetryWaitMin
	client.Logger = leveledLogger{log}

	return &WebReader{base: strings.TrimSuffix(base, "/"), client: client, log: log}
}

// Metadata implements keyczar.KeySetReader.
func (r *WebReader) Metadata(ctx context.Context) (*keyczar.KeyMetadata, error) {
	data, err := r.get(ctx, MetaName)
	if err != nil {
		return nil, err
	}
	return keyczar.ParseMetadata(data)
}

// KeyData implements keyczar.KeySetReader.
func (r *WebReader) KeyData(ctx context.Context, version int) ([]byte, error) {
	return r.get(ctx, versionName(version))
}

func (r *WebReader) get(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	url := r.base + "/" + name
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wrapError(ErrInvalidLocation, err, ErrCodeLocation, fmt.Sprintf("invalid URL %s", url))
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeUnavailable, fmt.Sprintf("GET %s failed", url))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("GET %s: 404", url))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, newError(ErrBackendUnavailable, ErrCodeUnavailable, fmt.Sprintf("GET %s: %s", url, resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEntrySize+1))
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to read %s", url))
	}
	if len(data) > maxEntrySize {
		return nil, newError(ErrBackendUnavailable, ErrCodeFormat, fmt.Sprintf("%s exceeds %d bytes", url, maxEntrySize))
	}
	r.log.WithFields(logrus.Fields{"record": name, "duration": time.Since(start)}).Debug("fetched")
	return data, nil
}

// leveledLogger adapts a logrus entry to retryablehttp.LeveledLogger.
type leveledLogger struct{ e *logrus.Entry }

func (l leveledLogger) fields(kv []interface{}) *logrus.Entry {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.e.WithFields(f)
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Trace(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }
