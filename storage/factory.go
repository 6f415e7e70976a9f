// factory.go: Location URI parsing for key set backends.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/agilira/keyczar"
	"github.com/sirupsen/logrus"
)

// Options configures backends built by ReaderFor and WriterFor.
type Options struct {
	// CreateOnly refuses to replace an existing file key set.
	CreateOnly bool
	// Logger is passed to the backend. Nil uses the logrus standard logger.
	Logger *logrus.Entry
}

// ReaderFor returns a reader for location. A location without a scheme is a
// local directory.
//
//	file:///etc/keys/payments
//	zip:///backups/payments.zip
//	https://keys.example.com/payments
//	s3://bucket/keys/payments?region=eu-west-1&endpoint=http://minio:9000
//	vault://vault.example.com:8200/secret/keys/payments?tls=false
func ReaderFor(location string, opts *Options) (keyczar.KeySetReader, error) {
	if opts == nil {
		opts = &Options{}
	}
	u, err := parseLocation(location)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file":
		return NewFileReader(localPath(u), opts.Logger), nil
	case "zip":
		return OpenBlobFile(localPath(u), opts.Logger)
	case "http", "https":
		return NewWebReader(u.String(), &WebOptions{Logger: opts.Logger}), nil
	case "s3":
		q := u.Query()
		return NewS3Reader(S3Config{
			Bucket:   u.Host,
			Prefix:   strings.TrimPrefix(u.Path, "/"),
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}, opts.Logger)
	case "vault":
		return vaultFor(u, opts)
	}
	return nil, newError(ErrInvalidLocation, ErrCodeLocation, fmt.Sprintf("unsupported scheme %q", u.Scheme))
}

// WriterFor returns a writer for location. Web and S3 locations are read-only.
func WriterFor(location string, opts *Options) (keyczar.KeySetWriter, error) {
	if opts == nil {
		opts = &Options{}
	}
	u, err := parseLocation(location)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file":
		return NewFileWriter(localPath(u), &FileOptions{CreateOnly: opts.CreateOnly, Logger: opts.Logger}), nil
	case "zip":
		return NewBlobFileWriter(localPath(u), opts.Logger), nil
	case "vault":
		return vaultFor(u, opts)
	case "http", "https", "s3":
		return nil, newError(ErrInvalidLocation, ErrCodeLocation, fmt.Sprintf("%s locations are read-only", u.Scheme))
	}
	return nil, newError(ErrInvalidLocation, ErrCodeLocation, fmt.Sprintf("unsupported scheme %q", u.Scheme))
}

func parseLocation(location string) (*url.URL, error) {
	if location == "" {
		return nil, newError(ErrInvalidLocation, ErrCodeLocation, "location is required")
	}
	if !strings.Contains(location, "://") {
		abs, err := filepath.Abs(location)
		if err != nil {
			return nil, wrapError(ErrInvalidLocation, err, ErrCodeLocation, fmt.Sprintf("invalid path %q", location))
		}
		return &url.URL{Scheme: "file", Path: abs}, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, wrapError(ErrInvalidLocation, err, ErrCodeLocation, fmt.Sprintf("invalid location %q", location))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

// localPath accepts both file:///abs and file://relative forms.
func localPath(u *url.URL) string {
	if u.Host != "" {
		return filepath.Join(u.Host, filepath.FromSlash(u.Path))
	}
	return filepath.FromSlash(u.Path)
}

func vaultFor(u *url.URL, opts *Options) (*VaultStore, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, newError(ErrInvalidLocation, ErrCodeLocation, "vault location needs /<mount>/<path>")
	}
	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	return NewVaultStore(VaultConfig{
		Address: scheme + "://" + u.Host,
		Mount:   parts[0],
		Path:    parts[1],
	}, opts.Logger)
}
