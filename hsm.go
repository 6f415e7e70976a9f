// hsm.go: Hardware Security Module (HSM) key wrapping for key sets at rest
//
// Persisted key data is protected with a wrapping key that never leaves an HSM
// (PKCS#11 devices, cloud HSMs, or software fallbacks). Providers are either
// registered in-process as HSMProvider values or reached through a
// github.com/agilira/go-plugins manager as HSMRequest/HSMResponse plugins.
// HSMWriter and HSMReader slot into the key set writer chain next to the PBE
// and nested decorators.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	goplugins "github.com/agilira/go-plugins"
	"github.com/google/uuid"
)

// HSMCapability represents specific HSM capabilities and features
type HSMCapability string

const (
	CapabilityKeyWrapping      HSMCapability = "key_wrapping"       // Key encryption keys (KEK)
	CapabilityKeyUnwrapping    HSMCapability = "key_unwrapping"     // KEK decryption
	CapabilityRandomGeneration HSMCapability = "random_generation"  // Hardware RNG
	CapabilitySecureKeyStorage HSMCapability = "secure_key_storage" // Hardware-backed storage
)

// HSMOperationContext provides context for HSM operations
type HSMOperationContext struct {
	Context   context.Context   `json:"-"`          // Go context for cancellation/timeout
	RequestID string            `json:"request_id"` // Unique request identifier for auditing
	KeyID     string            `json:"key_id"`     // Wrapping key identifier inside the HSM
	Algorithm string            `json:"algorithm"`  // Wrapping algorithm variant
	Metadata  map[string]string `json:"metadata"`   // Key set name and version being wrapped
}

// HSMProvider defines the interface that HSM plugins implement to protect key
// set data.
//
// WrapKey and UnwrapKey must be inverse operations for the same KeyID, and
// UnwrapKey must fail for data wrapped under another key or with different
// Metadata.
type HSMProvider interface {
	// Provider Information
	Name() string                  // Provider name (e.g., "pkcs11", "aws-cloudhsm")
	Version() string               // Provider version
	Capabilities() []HSMCapability // Supported capabilities

	// Lifecycle Management
	Initialize(ctx context.Context, config map[string]interface{}) error // Initialize HSM connection
	Close() error                                                        // Clean shutdown and resource cleanup
	IsHealthy() bool                                                     // Health check status

	// Key Wrapping
	WrapKey(ctx HSMOperationContext, keyData []byte) ([]byte, error)
	UnwrapKey(ctx HSMOperationContext, wrapped []byte) ([]byte, error)

	// Random Number Generation
	GenerateRandom(ctx context.Context, length int) ([]byte, error)
}

// HSMManager resolves provider names to in-process providers first and to
// go-plugins plugins second.
type HSMManager struct {
	mu              sync.RWMutex
	pluginManager   *goplugins.Manager[HSMRequest, HSMResponse] // Plugin manager for out-of-process HSM providers
	activeProviders map[string]HSMProvider                      // Active HSM provider instances
	defaultProvider string                                      // Default provider name
	config          *HSMManagerConfig                           // Manager configuration
}

// HSMManagerConfig provides configuration for the HSM manager
type HSMManagerConfig struct {
	DefaultProvider  string                            `json:"default_provider"`  // Default HSM provider to use
	ProviderConfigs  map[string]map[string]interface{} `json:"provider_configs"`  // Per-provider configurations
	OperationTimeout time.Duration                     `json:"operation_timeout"` // Default operation timeout
}

// HSMRequest represents a request to an HSM provider plugin
type HSMRequest struct {
	Operation string              `json:"operation"` // "wrap" or "unwrap"
	Context   HSMOperationContext `json:"context"`   // Operation context
	Data      []byte              `json:"data"`      // Key data or wrapped key data
}

// HSMResponse represents a response from an HSM provider plugin
type HSMResponse struct {
	Success bool   `json:"success"` // Operation success status
	Data    []byte `json:"data"`    // Response data
	Error   string `json:"error"`   // Error message (if any)
}

// Common HSM errors with proper error codes for auditing
var (
	ErrHSMNotInitialized    = goerrors.New("HSM_001", "HSM provider not initialized")
	ErrHSMOperationFailed   = goerrors.New("HSM_003", "HSM operation failed")
	ErrHSMProviderNotFound  = goerrors.New("HSM_006", "HSM provider not found")
	ErrHSMHealthCheckFailed = goerrors.New("HSM_007", "HSM health check failed")
)

// ErrCodeHSMProvider marks provider registration and shutdown failures.
const ErrCodeHSMProvider = "KEYCZAR_HSM_PROVIDER"

// NewHSMManager creates a new HSM manager with plugin support. pluginManager
// may be nil when every provider is registered in-process. A plugin registered
// on pluginManager is used for any provider name with no in-process provider;
// it receives "wrap" and "unwrap" HSMRequests and reports failures through
// HSMResponse.Success and HSMResponse.Error.
func NewHSMManager(config *HSMManagerConfig, pluginManager *goplugins.Manager[HSMRequest, HSMResponse]) (*HSMManager, error) {
	if config == nil {
		config = &HSMManagerConfig{
			OperationTimeout: 10 * time.Second,
		}
	}

	manager := &HSMManager{
		pluginManager:   pluginManager,
		activeProviders: make(map[string]HSMProvider),
		config:          config,
	}

	return manager, nil
}

// PluginManager returns the go-plugins manager given at construction, or nil.
func (h *HSMManager) PluginManager() *goplugins.Manager[HSMRequest, HSMResponse] {
	return h.pluginManager
}

// RegisterProvider registers an HSM provider with the manager
func (h *HSMManager) RegisterProvider(name string, provider HSMProvider) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if provider == nil {
		return newError(ErrInvalidKeySet, ErrCodeHSMProvider, "HSM provider cannot be nil")
	}

	// Initialize the provider with its configuration
	ctx := context.Background()
	if timeout := h.config.OperationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	providerConfig := h.config.ProviderConfigs[name]
	if err := provider.Initialize(ctx, providerConfig); err != nil {
		return wrapError(ErrInvalidKeySet, err, ErrCodeHSMProvider, fmt.Sprintf("failed to initialize HSM provider %s", name))
	}

	h.activeProviders[name] = provider

	// Set as default if it's the first provider or explicitly configured
	if h.defaultProvider == "" || h.config.DefaultProvider == name {
		h.defaultProvider = name
	}

	logFor("HSMManager.RegisterProvider").WithField("provider", name).
		WithField("version", provider.Version()).Debug("registered HSM provider")
	return nil
}

// GetProvider returns an HSM provider by name, or the default one for "".
func (h *HSMManager) GetProvider(name string) (HSMProvider, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if name == "" {
		name = h.defaultProvider
	}

	provider, exists := h.activeProviders[name]
	if !exists {
		return nil, fmt.Errorf("%w: provider %s", ErrHSMProviderNotFound, name)
	}

	// Health check before returning provider
	if !provider.IsHealthy() {
		return nil, fmt.Errorf("%w: provider %s", ErrHSMHealthCheckFailed, name)
	}

	return provider, nil
}

// Close shuts down all HSM providers
func (h *HSMManager) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error

	for name, provider := range h.activeProviders {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close HSM provider %s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return wrapError(ErrInvalidKeySet, errors.Join(errs...), ErrCodeHSMProvider, "failed to close some HSM providers")
	}

	return nil
}

// HSMKeyRef selects the provider and wrapping key used by HSMWriter and HSMReader.
type HSMKeyRef struct {
	Provider  string // registered provider name, "" for the default
	KeyID     string // wrapping key identifier inside the HSM
	Algorithm string // optional wrapping algorithm hint
}

// keyWrapper is the part of a provider the writer chain calls.
type keyWrapper interface {
	WrapKey(ctx HSMOperationContext, keyData []byte) ([]byte, error)
	UnwrapKey(ctx HSMOperationContext, wrapped []byte) ([]byte, error)
}

// resolve returns the in-process provider for name, or the plugin of that
// name on the plugin manager when none is registered.
func (h *HSMManager) resolve(name string) (keyWrapper, error) {
	h.mu.RLock()
	if name == "" {
		name = h.defaultProvider
	}
	if name == "" {
		name = h.config.DefaultProvider
	}
	_, inProcess := h.activeProviders[name]
	h.mu.RUnlock()

	if inProcess || h.pluginManager == nil {
		return h.GetProvider(name)
	}
	if _, err := h.pluginManager.GetPlugin(name); err != nil {
		return nil, fmt.Errorf("%w: provider %s", ErrHSMProviderNotFound, name)
	}
	if status, ok := h.pluginManager.Health()[name]; ok &&
		(status.Status == goplugins.StatusUnhealthy || status.Status == goplugins.StatusOffline) {
		return nil, fmt.Errorf("%w: plugin %s is %s", ErrHSMHealthCheckFailed, name, status.Status)
	}
	return &pluginWrapper{manager: h.pluginManager, name: name, timeout: h.config.OperationTimeout}, nil
}

// pluginWrapper sends wrap and unwrap to a go-plugins plugin.
type pluginWrapper struct {
	manager *goplugins.Manager[HSMRequest, HSMResponse]
	name    string
	timeout time.Duration
}

func (p *pluginWrapper) WrapKey(op HSMOperationContext, keyData []byte) ([]byte, error) {
	return p.execute(op, "wrap", keyData)
}

func (p *pluginWrapper) UnwrapKey(op HSMOperationContext, wrapped []byte) ([]byte, error) {
	return p.execute(op, "unwrap", wrapped)
}

func (p *pluginWrapper) execute(op HSMOperationContext, operation string, data []byte) ([]byte, error) {
	ctx := op.Context
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	resp, err := p.manager.ExecuteWithOptions(ctx, p.name, goplugins.ExecutionContext{
		RequestID: op.RequestID,
		Timeout:   timeout,
		Metadata:  op.Metadata,
	}, HSMRequest{Operation: operation, Context: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: plugin %s %s: %w", ErrHSMOperationFailed, p.name, operation, err)
	}
	if !resp.Success {
		detail := resp.Error
		if detail == "" {
			detail = "plugin reported failure"
		}
		return nil, fmt.Errorf("%w: plugin %s %s: %s", ErrHSMOperationFailed, p.name, operation, detail)
	}
	return resp.Data, nil
}

// operation builds the context for wrapping version of the key set name.
func (h *HSMManager) operation(ctx context.Context, ref HSMKeyRef, name string, version int) (keyWrapper, HSMOperationContext, context.CancelFunc, error) {
	provider, err := h.resolve(ref.Provider)
	if err != nil {
		return nil, HSMOperationContext{}, nil, err
	}
	cancel := context.CancelFunc(func() {})
	if timeout := h.config.OperationTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	return provider, HSMOperationContext{
		Context:   ctx,
		RequestID: uuid.NewString(),
		KeyID:     ref.KeyID,
		Algorithm: ref.Algorithm,
		Metadata: map[string]string{
			"keyset":  name,
			"version": strconv.Itoa(version),
		},
	}, cancel, nil
}

// HSMWriter wraps each key version with an HSM-resident key before
// delegating, and flags the metadata as encrypted.
type HSMWriter struct {
	inner   KeySetWriter
	manager *HSMManager
	ref     HSMKeyRef
	name    string
}

// NewHSMWriter wraps inner with the key ref on manager.
func NewHSMWriter(inner KeySetWriter, manager *HSMManager, ref HSMKeyRef) *HSMWriter {
	return &HSMWriter{inner: inner, manager: manager, ref: ref}
}

// WriteMetadata implements KeySetWriter.
func (w *HSMWriter) WriteMetadata(ctx context.Context, meta *KeyMetadata) error {
	m := meta.Clone()
	m.Encrypted = true
	w.name = m.Name
	return w.inner.WriteMetadata(ctx, m)
}

// Write implements KeySetWriter.
func (w *HSMWriter) Write(ctx context.Context, keyData []byte, version int) error {
	provider, op, cancel, err := w.manager.operation(ctx, w.ref, w.name, version)
	if err != nil {
		return wrapError(ErrWriterFailed, err, ErrCodeWriter, "HSM provider unavailable")
	}
	defer cancel()
	wrapped, err := provider.WrapKey(op, keyData)
	if err != nil {
		return wrapError(ErrWriterFailed, err, ErrCodeWriter,
			fmt.Sprintf("HSM failed to wrap key version %d (request %s)", version, op.RequestID))
	}
	return w.inner.Write(ctx, wrapped, version)
}

// Finish implements KeySetWriter.
func (w *HSMWriter) Finish(ctx context.Context) error { return w.inner.Finish(ctx) }

// Discard implements KeySetWriter.
func (w *HSMWriter) Discard(ctx context.Context) error { return w.inner.Discard(ctx) }

// RequiresFullRewrite forwards the wrapped writer's answer.
func (w *HSMWriter) RequiresFullRewrite() bool { return requiresFullRewrite(w.inner) }

// HSMReader unwraps key data written by an HSMWriter.
type HSMReader struct {
	inner   KeySetReader
	manager *HSMManager
	ref     HSMKeyRef

	mu   sync.Mutex
	name string
}

// NewHSMReader wraps inner with the key ref on manager.
func NewHSMReader(inner KeySetReader, manager *HSMManager, ref HSMKeyRef) *HSMReader {
	return &HSMReader{inner: inner, manager: manager, ref: ref}
}

// Metadata implements KeySetReader. The metadata must be flagged encrypted.
func (r *HSMReader) Metadata(ctx context.Context) (*KeyMetadata, error) {
	meta, err := encryptedMetadata(ctx, r.inner)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		r.mu.Lock()
		r.name = meta.Name
		r.mu.Unlock()
	}
	return meta, nil
}

// KeyData implements KeySetReader.
func (r *HSMReader) KeyData(ctx context.Context, version int) ([]byte, error) {
	data, err := r.inner.KeyData(ctx, version)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	name := r.name
	r.mu.Unlock()
	provider, op, cancel, err := r.manager.operation(ctx, r.ref, name, version)
	if err != nil {
		return nil, wrapError(ErrInvalidKeySet, err, ErrCodeReader, "HSM provider unavailable")
	}
	defer cancel()
	plain, err := provider.UnwrapKey(op, data)
	if err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeReader,
			fmt.Sprintf("HSM failed to unwrap key version %d (request %s)", version, op.RequestID))
	}
	return plain, nil
}

// DecryptsKeyData implements DecryptingReader.
func (r *HSMReader) DecryptsKeyData() bool { return true }
