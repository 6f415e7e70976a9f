// memory.go: In-memory key set store with staged commits.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a KeySetReader and KeySetWriter over process memory. Writes
// are staged and become visible on Finish; Discard drops them. It copies every
// buffer it receives or returns.
//
// A MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	meta []byte
	keys map[int][]byte

	staged       bool
	stagedMeta   []byte
	stagedKeys   map[int][]byte
	fullRewrite  bool
	failOnFinish error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[int][]byte)}
}

// Metadata implements KeySetReader.
func (s *MemoryStore) Metadata(_ context.Context) (*KeyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return nil, newError(ErrInvalidKeySet, ErrCodeReader, "memory store holds no key set")
	}
	return ParseMetadata(s.meta)
}

// KeyData implements KeySetReader.
func (s *MemoryStore) KeyData(_ context.Context, version int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.keys[version]
	if !ok {
		return nil, newError(ErrInvalidKeySet, ErrCodeReader, fmt.Sprintf("memory store has no key version %d", version))
	}
	return append([]byte(nil), data...), nil
}

// WriteMetadata implements KeySetWriter.
func (s *MemoryStore) WriteMetadata(_ context.Context, meta *KeyMetadata) error {
	data, err := meta.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage()
	s.stagedMeta = data
	return nil
}

// Write implements KeySetWriter.
func (s *MemoryStore) Write(_ context.Context, keyData []byte, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage()
	s.stagedKeys[version] = append([]byte(nil), keyData...)
	return nil
}

// Finish implements KeySetWriter. Staged key versions replace stored ones;
// versions absent from the new metadata are dropped.
func (s *MemoryStore) Finish(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.staged {
		return nil
	}
	if s.failOnFinish != nil {
		err := s.failOnFinish
		s.discardLocked()
		return err
	}
	if s.stagedMeta != nil {
		s.meta = s.stagedMeta
	}
	for v, data := range s.stagedKeys {
		if old, ok := s.keys[v]; ok {
			Zeroize(old)
		}
		s.keys[v] = data
	}
	if meta, err := ParseMetadata(s.meta); err == nil {
		for v, data := range s.keys {
			if meta.Version(v) == nil {
				Zeroize(data)
				delete(s.keys, v)
			}
		}
	}
	s.staged = false
	s.stagedMeta = nil
	s.stagedKeys = nil
	return nil
}

// Discard implements KeySetWriter.
func (s *MemoryStore) Discard(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardLocked()
	return nil
}

// RequiresFullRewrite implements FullRewriteWriter.
func (s *MemoryStore) RequiresFullRewrite() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fullRewrite
}

// SetFullRewrite makes the store ask for every key version on each save.
func (s *MemoryStore) SetFullRewrite(v bool) {
	s.mu.Lock()
	s.fullRewrite = v
	s.mu.Unlock()
}

// RawMetadata returns a copy of the committed serialized metadata.
func (s *MemoryStore) RawMetadata() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.meta...)
}

// Versions returns the number of committed key blobs.
func (s *MemoryStore) Versions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *MemoryStore) stage() {
	if !s.staged {
		s.staged = true
		s.stagedKeys = make(map[int][]byte)
	}
}

func (s *MemoryStore) discardLocked() {
	for _, data := range s.stagedKeys {
		Zeroize(data)
	}
	s.staged = false
	s.stagedMeta = nil
	s.stagedKeys = nil
}
