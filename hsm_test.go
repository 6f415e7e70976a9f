// hsm_test.go: Tests for HSM-wrapped key sets with a mock provider.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goplugins "github.com/agilira/go-plugins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHSMProvider wraps keys with AES-GCM under a key derived from KeyID and
// binds the operation metadata as additional data.
type mockHSMProvider struct {
	mu          sync.Mutex
	name        string
	healthy     bool
	initialized bool
	closed      bool
	wraps       int
	unwraps     int
	lastRequest HSMOperationContext
}

func newMockHSMProvider(name string) *mockHSMProvider {
	return &mockHSMProvider{name: name, healthy: true}
}

func (m *mockHSMProvider) Name() string    { return m.name }
func (m *mockHSMProvider) Version() string { return "1.0.0-test" }

func (m *mockHSMProvider) Capabilities() []HSMCapability {
	return []HSMCapability{CapabilityKeyWrapping, CapabilityKeyUnwrapping, CapabilityRandomGeneration}
}

func (m *mockHSMProvider) Initialize(context.Context, map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

func (m *mockHSMProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockHSMProvider) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *mockHSMProvider) setHealthy(v bool) {
	m.mu.Lock()
	m.healthy = v
	m.mu.Unlock()
}

func (m *mockHSMProvider) counts() (wraps, unwraps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wraps, m.unwraps
}

func (m *mockHSMProvider) aead(op HSMOperationContext) (cipher.AEAD, []byte, error) {
	if op.KeyID == "" {
		return nil, nil, errors.New("no wrapping key")
	}
	key := sha256.Sum256([]byte(op.KeyID))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	return aead, []byte(op.Metadata["keyset"] + "/" + op.Metadata["version"]), nil
}

func (m *mockHSMProvider) WrapKey(op HSMOperationContext, keyData []byte) ([]byte, error) {
	m.mu.Lock()
	m.wraps++
	m.lastRequest = op
	m.mu.Unlock()
	aead, aad, err := m.aead(op)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, keyData, aad), nil
}

func (m *mockHSMProvider) UnwrapKey(op HSMOperationContext, wrapped []byte) ([]byte, error) {
	m.mu.Lock()
	m.unwraps++
	m.lastRequest = op
	m.mu.Unlock()
	aead, aad, err := m.aead(op)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < aead.NonceSize() {
		return nil, errors.New("wrapped key too short")
	}
	return aead.Open(nil, wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():], aad)
}

func (m *mockHSMProvider) GenerateRandom(_ context.Context, length int) ([]byte, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	return b, err
}

// mockHSMPlugin serves HSMRequests from a mockHSMProvider through go-plugins.
type mockHSMPlugin struct {
	provider *mockHSMProvider

	mu         sync.Mutex
	operations []string
	requestIDs []string
}

func (p *mockHSMPlugin) Info() goplugins.PluginInfo {
	return goplugins.PluginInfo{Name: p.provider.name, Version: p.provider.Version()}
}

func (p *mockHSMPlugin) Execute(_ context.Context, execCtx goplugins.ExecutionContext, req HSMRequest) (HSMResponse, error) {
	p.mu.Lock()
	p.operations = append(p.operations, req.Operation)
	p.requestIDs = append(p.requestIDs, execCtx.RequestID)
	p.mu.Unlock()

	var out []byte
	var err error
	switch req.Operation {
	case "wrap":
		out, err = p.provider.WrapKey(req.Context, req.Data)
	case "unwrap":
		out, err = p.provider.UnwrapKey(req.Context, req.Data)
	default:
		err = fmt.Errorf("unknown operation %q", req.Operation)
	}
	if err != nil {
		return HSMResponse{Error: err.Error()}, nil
	}
	return HSMResponse{Success: true, Data: out}, nil
}

func (p *mockHSMPlugin) Health(context.Context) goplugins.HealthStatus {
	return goplugins.HealthStatus{Status: goplugins.StatusHealthy, LastCheck: time.Now()}
}

func (p *mockHSMPlugin) Close() error { return nil }

func (p *mockHSMPlugin) calls() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.operations...), append([]string(nil), p.requestIDs...)
}

// newPluginHSMManager returns a manager with no in-process providers whose
// plugin manager serves each of plugins.
func newPluginHSMManager(t *testing.T, plugins ...*mockHSMPlugin) *HSMManager {
	t.Helper()
	pm := goplugins.NewManager[HSMRequest, HSMResponse](slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, p := range plugins {
		require.NoError(t, pm.Register(p))
	}
	t.Cleanup(func() { _ = pm.Shutdown(context.Background()) })

	manager, err := NewHSMManager(&HSMManagerConfig{OperationTimeout: 5 * time.Second}, pm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func newTestHSMManager(t *testing.T, providers ...*mockHSMProvider) *HSMManager {
	t.Helper()
	manager, err := NewHSMManager(&HSMManagerConfig{OperationTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	for _, p := range providers {
		require.NoError(t, manager.RegisterProvider(p.name, p))
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestHSMKeySetRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider := newMockHSMProvider("mock")
	manager := newTestHSMManager(t, provider)
	ref := HSMKeyRef{KeyID: "kek-1", Algorithm: "AES-GCM"}

	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary, StatusActive)
	store := NewMemoryStore()
	require.NoError(t, mks.Save(ctx, NewHSMWriter(store, manager, ref)))

	wraps, _ := provider.counts()
	assert.Equal(t, 2, wraps)
	assert.Equal(t, "kek-1", provider.lastRequest.KeyID)
	assert.Equal(t, "test-AES", provider.lastRequest.Metadata["keyset"])
	assert.NotEmpty(t, provider.lastRequest.RequestID)

	ks, err := NewKeySet(ctx, NewHSMReader(store, manager, ref))
	require.NoError(t, err)
	defer ks.Destroy()
	_, unwraps := provider.counts()
	assert.Equal(t, 2, unwraps)
	assert.Equal(t, mks.Key(1).Hash(), ks.Key(1).Hash())

	_, err = NewKeySet(ctx, store)
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestHSMWrongWrappingKey(t *testing.T) {
	ctx := context.Background()
	manager := newTestHSMManager(t, newMockHSMProvider("mock"))
	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary)
	store := NewMemoryStore()
	require.NoError(t, mks.Save(ctx, NewHSMWriter(store, manager, HSMKeyRef{KeyID: "kek-1"})))

	_, err := NewKeySet(ctx, NewHSMReader(store, manager, HSMKeyRef{KeyID: "kek-2"}))
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestHSMProviderSelection(t *testing.T) {
	ctx := context.Background()
	first := newMockHSMProvider("first")
	second := newMockHSMProvider("second")
	manager := newTestHSMManager(t, first, second)

	p, err := manager.GetProvider("")
	require.NoError(t, err)
	assert.Equal(t, "first", p.Name(), "first registered provider is the default")

	mks := newTestMutable(t, PurposeSignAndVerify, KeyTypeHMACSHA256, StatusPrimary)
	store := NewMemoryStore()
	require.NoError(t, mks.Save(ctx, NewHSMWriter(store, manager, HSMKeyRef{Provider: "second", KeyID: "k"})))
	wraps, _ := second.counts()
	assert.Equal(t, 1, wraps)
	wraps, _ = first.counts()
	assert.Zero(t, wraps)

	_, err = manager.GetProvider("missing")
	assert.Error(t, err)
	err = mks.Save(ctx, NewHSMWriter(NewMemoryStore(), manager, HSMKeyRef{Provider: "missing", KeyID: "k"}))
	assert.ErrorIs(t, err, ErrWriterFailed)
}

func TestHSMUnhealthyProvider(t *testing.T) {
	ctx := context.Background()
	provider := newMockHSMProvider("mock")
	manager := newTestHSMManager(t, provider)
	ref := HSMKeyRef{KeyID: "kek"}

	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary)
	store := NewMemoryStore()
	require.NoError(t, mks.Save(ctx, NewHSMWriter(store, manager, ref)))

	provider.setHealthy(false)
	_, err := NewKeySet(ctx, NewHSMReader(store, manager, ref))
	assert.ErrorIs(t, err, ErrInvalidKeySet)
}

func TestHSMManagerLifecycle(t *testing.T) {
	manager, err := NewHSMManager(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, manager.PluginManager())
	assert.ErrorIs(t, manager.RegisterProvider("nil", nil), ErrInvalidKeySet)

	provider := newMockHSMProvider("mock")
	require.NoError(t, manager.RegisterProvider("mock", provider))
	assert.True(t, provider.initialized)

	require.NoError(t, manager.Close())
	assert.True(t, provider.closed)
}

func TestHSMPluginRoundTrip(t *testing.T) {
	ctx := context.Background()
	plugin := &mockHSMPlugin{provider: newMockHSMProvider("remote")}
	manager := newPluginHSMManager(t, plugin)
	ref := HSMKeyRef{Provider: "remote", KeyID: "kek-1"}

	_, err := manager.GetProvider("remote")
	require.Error(t, err, "plugins are not in-process providers")

	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary, StatusActive)
	store := NewMemoryStore()
	require.NoError(t, mks.Save(ctx, NewHSMWriter(store, manager, ref)))

	ops, ids := plugin.calls()
	assert.Equal(t, []string{"wrap", "wrap"}, ops)
	for _, id := range ids {
		assert.NotEmpty(t, id)
	}
	assert.Equal(t, "test-AES", plugin.provider.lastRequest.Metadata["keyset"])

	ks, err := NewKeySet(ctx, NewHSMReader(store, manager, ref))
	require.NoError(t, err)
	defer ks.Destroy()
	assert.Equal(t, mks.Key(1).Hash(), ks.Key(1).Hash())
	assert.Equal(t, mks.Key(2).Hash(), ks.Key(2).Hash())

	ops, _ = plugin.calls()
	assert.Equal(t, []string{"wrap", "wrap", "unwrap", "unwrap"}, ops)
}

func TestHSMPluginFailures(t *testing.T) {
	ctx := context.Background()
	plugin := &mockHSMPlugin{provider: newMockHSMProvider("remote")}
	manager := newPluginHSMManager(t, plugin)

	mks := newTestMutable(t, PurposeDecryptAndEncrypt, KeyTypeAES, StatusPrimary)
	store := NewMemoryStore()
	require.NoError(t, mks.Save(ctx, NewHSMWriter(store, manager, HSMKeyRef{Provider: "remote", KeyID: "kek-1"})))

	_, err := NewKeySet(ctx, NewHSMReader(store, manager, HSMKeyRef{Provider: "remote", KeyID: "kek-2"}))
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.ErrorIs(t, err, ErrHSMOperationFailed)

	err = mks.Save(ctx, NewHSMWriter(NewMemoryStore(), manager, HSMKeyRef{Provider: "remote"}))
	assert.ErrorIs(t, err, ErrWriterFailed)
	assert.ErrorIs(t, err, ErrHSMOperationFailed)
	assert.Contains(t, err.Error(), "no wrapping key")

	err = mks.Save(ctx, NewHSMWriter(NewMemoryStore(), manager, HSMKeyRef{Provider: "absent", KeyID: "k"}))
	assert.ErrorIs(t, err, ErrWriterFailed)
	assert.ErrorIs(t, err, ErrHSMProviderNotFound)
}

func TestHSMInProcessProviderWins(t *testing.T) {
	ctx := context.Background()
	plugin := &mockHSMPlugin{provider: newMockHSMProvider("shared")}
	manager := newPluginHSMManager(t, plugin)
	local := newMockHSMProvider("shared")
	require.NoError(t, manager.RegisterProvider("shared", local))

	mks := newTestMutable(t, PurposeSignAndVerify, KeyTypeHMACSHA256, StatusPrimary)
	require.NoError(t, mks.Save(ctx, NewHSMWriter(NewMemoryStore(), manager, HSMKeyRef{KeyID: "k"})))

	wraps, _ := local.counts()
	assert.Equal(t, 1, wraps)
	ops, _ := plugin.calls()
	assert.Empty(t, ops)
}
