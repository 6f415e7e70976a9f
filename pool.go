// pool.go: Buffer pooling for signature inputs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"sync"
)

var (
	// Sized pools for the signed-data buffers built on every sign and verify
	smallBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 512) // short messages, tokens, session material
			return &buf
		},
	}

	largeBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 4*1024)
			return &buf
		},
	}
)

// getBuffer retrieves a buffer of exactly size bytes from the pool matching its size
func getBuffer(size int) *[]byte {
	switch {
	case size <= 512:
		buf := smallBufferPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	case size <= 4*1024:
		buf := largeBufferPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	default:
		// For very large messages, allocate directly
		buf := make([]byte, size)
		return &buf
	}
}

// clearBuffer zeroes a buffer before it goes back to a pool. Signed data may
// contain plaintext messages and attached secrets.
func clearBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// putBuffer clears and returns a buffer to its pool
func putBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	if len(*buf) > 0 {
		clearBuffer(*buf)
	}

	switch cap(*buf) {
	case 512:
		smallBufferPool.Put(buf)
	case 4 * 1024:
		largeBufferPool.Put(buf)
		// Directly allocated buffers are left to the GC
	}
}
