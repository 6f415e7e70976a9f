// vault.go: HashiCorp Vault KV v2 key set backend.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agilira/keyczar"
	"github.com/hashicorp/vault/api"
	"github.com/sirupsen/logrus"
)

// VaultStore keeps a whole key set in one KV v2 secret at
// "<mount>/data/<path>". Each record is a field holding web-safe base64:
// "meta", "1", "2" and so on. A save is a single secret write, so Finish is
// atomic and every save rewrites all versions.
type VaultStore struct {
	client *api.Client
	mount  string
	path   string
	log    *logrus.Entry

	mu     sync.Mutex
	cached map[string]interface{} // last read secret data
	staged map[string]interface{}
}

// VaultConfig locates a key set secret.
type VaultConfig struct {
	Address string // e.g. https://vault.example.com:8200
	Token   string // optional; VAULT_TOKEN from the environment otherwise
	Mount   string // KV v2 mount, e.g. "secret"
	Path    string // secret path inside the mount
}

// NewVaultStore builds a Vault client for cfg. log may be nil.
func NewVaultStore(cfg VaultConfig, log *logrus.Entry) (*VaultStore, error) {
	config := api.DefaultConfig()
	if cfg.Address != "" {
		config.Address = cfg.Address
	}
	client, err := api.NewClient(config)
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeUnavailable, "failed to create Vault client")
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewVaultStoreWithClient(client, cfg.Mount, cfg.Path, log)
}

// NewVaultStoreWithClient returns a store using an existing client.
func NewVaultStoreWithClient(client *api.Client, mount, path string, log *logrus.Entry) (*VaultStore, error) {
	mount = strings.Trim(mount, "/")
	path = strings.Trim(path, "/")
	if mount == "" || path == "" {
		return nil, newError(ErrInvalidLocation, ErrCodeLocation, "Vault mount and path are required")
	}
	return &VaultStore{
		client: client,
		mount:  mount,
		path:   path,
		log:    entryOrDefault(log, "vault").WithFields(logrus.Fields{"mount": mount, "path": path}),
		staged: make(map[string]interface{}),
	}, nil
}

func (s *VaultStore) secretPath() string {
	return fmt.Sprintf("%s/data/%s", s.mount, s.path)
}

// load reads the secret once per reader; later records come from the same
// secret version.
func (s *VaultStore) load(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}

	start := time.Now()
	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath())
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeUnavailable, fmt.Sprintf("failed to read %s", s.secretPath()))
	}
	if secret == nil || secret.Data == nil {
		return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("no secret at %s", s.secretPath()))
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("secret at %s has no data", s.secretPath()))
	}
	s.cached = data
	s.log.WithFields(logrus.Fields{"records": len(data), "duration": time.Since(start)}).Debug("secret read")
	return data, nil
}

func (s *VaultStore) record(ctx context.Context, name string) ([]byte, error) {
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok := data[name]
	if !ok {
		return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("secret %s has no %s field", s.secretPath(), name))
	}
	str, ok := raw.(string)
	if !ok {
		return nil, newError(ErrBackendUnavailable, ErrCodeFormat, fmt.Sprintf("field %s is not a string", name))
	}
	b, err := keyczar.DecodeWebSafe(str)
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeFormat, fmt.Sprintf("field %s is not web-safe base64", name))
	}
	return b, nil
}

// Metadata implements keyczar.KeySetReader.
func (s *VaultStore) Metadata(ctx context.Context) (*keyczar.KeyMetadata, error) {
	data, err := s.record(ctx, MetaName)
	if err != nil {
		return nil, err
	}
	return keyczar.ParseMetadata(data)
}

// KeyData implements keyczar.KeySetReader.
func (s *VaultStore) KeyData(ctx context.Context, version int) ([]byte, error) {
	return s.record(ctx, versionName(version))
}

// WriteMetadata implements keyczar.KeySetWriter.
func (s *VaultStore) WriteMetadata(_ context.Context, meta *keyczar.KeyMetadata) error {
	data, err := meta.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[MetaName] = keyczar.EncodeWebSafe(data)
	return nil
}

// Write implements keyczar.KeySetWriter.
func (s *VaultStore) Write(_ context.Context, keyData []byte, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[versionName(version)] = keyczar.EncodeWebSafe(keyData)
	return nil
}

// Finish implements keyczar.KeySetWriter.
func (s *VaultStore) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.staged
	s.staged = make(map[string]interface{})

	if _, ok := staged[MetaName]; !ok {
		return newError(ErrBackendUnavailable, ErrCodeFormat, "secret needs metadata")
	}
	start := time.Now()
	_, err := s.client.Logical().WriteWithContext(ctx, s.secretPath(), map[string]interface{}{"data": staged})
	if err != nil {
		s.log.WithError(err).Error("failed to write secret")
		return wrapError(ErrBackendUnavailable, err, ErrCodeUnavailable, fmt.Sprintf("failed to write %s", s.secretPath()))
	}
	s.cached = nil
	s.log.WithFields(logrus.Fields{"records": len(staged), "duration": time.Since(start)}).Debug("key set written")
	return nil
}

// Discard implements keyczar.KeySetWriter.
func (s *VaultStore) Discard(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = make(map[string]interface{})
	return nil
}

// RequiresFullRewrite implements keyczar.FullRewriteWriter.
func (s *VaultStore) RequiresFullRewrite() bool { return true }
