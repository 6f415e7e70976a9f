// streaming.go: Streaming encryption/decryption for large payloads.
//
// Streams are cut into chunks, each sealed with the Primary key's AEAD. The
// stream starts with the usual envelope header, so a Crypter resolves the key
// the same way it does for single-shot ciphertexts.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Error codes for streaming operations
const (
	ErrCodeStreamClosed = "KEYCZAR_STREAM_CLOSED"
	ErrCodeStreamIO     = "KEYCZAR_STREAM_IO"
)

// Default chunk size for streaming operations (64KB)
// This balances memory usage with encryption efficiency.
const DefaultChunkSize = 64 * 1024

// maxChunkSize bounds chunk sizes accepted on both ends (10MB).
const maxChunkSize = 10 * 1024 * 1024

// Stream layout:
//
//	[envelope header (5)] [chunk size u32] [base nonce]
//	then per chunk: [final flag (1)] [sealed length u32] [sealed chunk]
//
// Chunk i is sealed with the base nonce whose last four bytes are XORed with
// i, and with additional data header || chunk size || i || final flag. A
// stream that ends before a chunk flagged final fails to authenticate.
const streamPrefixSize = HeaderSize + 4

// aeadKey is implemented by symmetric keys that expose their AEAD.
type aeadKey interface {
	Key
	aeadCipher() (cipher.AEAD, error)
}

// streamEncryptor implements io.WriteCloser.
type streamEncryptor struct {
	writer    io.Writer
	aead      cipher.AEAD
	prefix    []byte
	nonce     []byte
	buffer    []byte
	chunkSize int
	index     uint32
	closed    bool
	err       error // first write failure, returned by every later call
}

// streamDecryptor implements io.ReadCloser.
type streamDecryptor struct {
	reader     io.Reader
	ks         *KeySet
	aead       cipher.AEAD
	prefix     []byte
	nonce      []byte
	chunkSize  int
	index      uint32
	headerRead bool
	finished   bool
	closed     bool
	remaining  []byte // Leftover plaintext from the previous chunk
	pending    pendingChunk
	err        error // first header or chunk failure, returned by every later Read
}

// NewStreamEncryptor returns a writer that encrypts everything written to it
// with the Primary key and writes the stream to w. Close must be called to
// emit the final chunk. Only AEAD key types (AES, XChaCha20) can stream.
//
// Example:
//
//	out, _ := os.Create("backup.enc")
//	sw, err := enc.NewStreamEncryptor(out)
//	if err != nil {
//		log.Fatal(err)
//	}
//	io.Copy(sw, snapshot)
//	sw.Close()
func (e *Encrypter) NewStreamEncryptor(w io.Writer) (io.WriteCloser, error) {
	return e.NewStreamEncryptorWithChunkSize(w, DefaultChunkSize)
}

// NewStreamEncryptorWithChunkSize is NewStreamEncryptor with an explicit
// plaintext chunk size (1 byte to 10MB).
func (e *Encrypter) NewStreamEncryptorWithChunkSize(w io.Writer, chunkSize int) (io.WriteCloser, error) {
	if chunkSize <= 0 || chunkSize > maxChunkSize {
		return nil, newError(ErrInvalidKeySet, ErrCodeStreamIO, "chunk size must be between 1 and 10MB")
	}
	k, err := e.ks.primary()
	if err != nil {
		return nil, err
	}
	ak, ok := k.(aeadKey)
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("%s keys cannot encrypt streams", k.Type()))
	}
	aead, err := ak.aeadCipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeNonceGen, "failed to generate nonce")
	}
	prefix := make([]byte, streamPrefixSize)
	copy(prefix, makeHeader(k))
	binary.BigEndian.PutUint32(prefix[HeaderSize:], uint32(chunkSize)) // #nosec G115 -- bounded above

	enc := &streamEncryptor{
		writer:    w,
		aead:      aead,
		prefix:    prefix,
		nonce:     nonce,
		chunkSize: chunkSize,
		buffer:    make([]byte, 0, chunkSize),
	}
	if _, err := w.Write(append(append([]byte(nil), prefix...), nonce...)); err != nil {
		return nil, wrapError(ErrWriterFailed, err, ErrCodeStreamIO, "failed to write stream header")
	}
	return enc, nil
}

// Write implements io.Writer.
func (e *streamEncryptor) Write(data []byte) (int, error) {
	if e.closed {
		return 0, newError(ErrWriterFailed, ErrCodeStreamClosed, "cannot write to closed encryptor")
	}
	if e.err != nil {
		return 0, e.err
	}

	totalWritten := 0
	for len(data) > 0 {
		// A full buffer is flushed only once more data arrives, so the last
		// chunk is always emitted by Close with the final flag.
		if len(e.buffer) == e.chunkSize {
			if err := e.flushChunk(false); err != nil {
				return totalWritten, err
			}
		}
		toWrite := e.chunkSize - len(e.buffer)
		if toWrite > len(data) {
			toWrite = len(data)
		}
		e.buffer = append(e.buffer, data[:toWrite]...)
		data = data[toWrite:]
		totalWritten += toWrite
	}
	return totalWritten, nil
}

// Close implements io.Closer. It emits the final chunk, possibly empty.
func (e *streamEncryptor) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	defer Zeroize(e.buffer[:cap(e.buffer)])
	if e.err != nil {
		return e.err
	}
	return e.flushChunk(true)
}

// flushChunk seals and writes the current buffer. A failure leaves the
// stream unusable.
func (e *streamEncryptor) flushChunk(final bool) error {
	if err := e.writeChunk(final); err != nil {
		e.err = err
		return err
	}
	return nil
}

func (e *streamEncryptor) writeChunk(final bool) error {
	if e.index == ^uint32(0) {
		return newError(ErrWriterFailed, ErrCodeStreamIO, "chunk counter overflow")
	}
	flag := byte(0)
	if final {
		flag = 1
	}
	// #nosec G407 -- chunk nonce is the random base nonce combined with a unique counter
	sealed := e.aead.Seal(nil, chunkNonce(e.nonce, e.index), e.buffer, chunkAAD(e.prefix, e.index, flag))

	var chunkHeader [5]byte
	chunkHeader[0] = flag
	binary.BigEndian.PutUint32(chunkHeader[1:], uint32(len(sealed))) // #nosec G115 -- chunks are at most 10MB
	if _, err := e.writer.Write(chunkHeader[:]); err != nil {
		return wrapError(ErrWriterFailed, err, ErrCodeStreamIO, "failed to write chunk header")
	}
	if _, err := e.writer.Write(sealed); err != nil {
		return wrapError(ErrWriterFailed, err, ErrCodeStreamIO, "failed to write encrypted chunk")
	}
	Zeroize(e.buffer)
	e.buffer = e.buffer[:0]
	e.index++
	return nil
}

// NewStreamDecryptor returns a reader that decrypts a stream produced by
// NewStreamEncryptor. The key is resolved from the stream header; when several
// keys share the hash, the first one that authenticates the first chunk is
// used. Read returns ErrValidationFailed on tampering or truncation.
func (c *Crypter) NewStreamDecryptor(r io.Reader) (io.ReadCloser, error) {
	return &streamDecryptor{reader: r, ks: c.ks}, nil
}

// Read implements io.Reader.
func (d *streamDecryptor) Read(data []byte) (int, error) {
	if d.closed {
		return 0, newError(ErrShortInput, ErrCodeStreamClosed, "cannot read from closed decryptor")
	}
	if d.err != nil {
		return 0, d.err
	}
	if !d.headerRead {
		if err := d.readHeader(); err != nil {
			d.err = err
			return 0, err
		}
	}

	totalRead := 0
	for len(data) > 0 {
		if len(d.remaining) > 0 {
			n := copy(data, d.remaining)
			d.remaining = d.remaining[n:]
			data = data[n:]
			totalRead += n
			continue
		}
		if d.finished {
			if totalRead > 0 {
				return totalRead, nil
			}
			return 0, io.EOF
		}
		chunk, err := d.readNextChunk()
		if err != nil {
			d.err = err
			return totalRead, err
		}
		d.remaining = chunk
	}
	return totalRead, nil
}

// Close implements io.Closer.
func (d *streamDecryptor) Close() error {
	d.closed = true
	d.remaining = nil
	return nil
}

// readHeader reads the stream prefix and resolves candidate keys.
func (d *streamDecryptor) readHeader() error {
	prefix := make([]byte, streamPrefixSize)
	if _, err := io.ReadFull(d.reader, prefix); err != nil {
		return wrapError(ErrShortInput, err, ErrCodeShortInput, "failed to read stream header")
	}
	env, err := openEnvelope(d.ks, prefix[:HeaderSize])
	if err != nil {
		return err
	}
	d.chunkSize = int(binary.BigEndian.Uint32(prefix[HeaderSize:]))
	if d.chunkSize <= 0 || d.chunkSize > maxChunkSize {
		return newError(ErrValidationFailed, ErrCodeStreamIO, "invalid chunk size in stream header")
	}
	d.prefix = prefix

	// The first chunk picks the candidate.
	var firstErr error
	for _, k := range env.candidates {
		ak, ok := k.(aeadKey)
		if !ok {
			continue
		}
		aead, err := ak.aeadCipher()
		if err != nil {
			return err
		}
		if d.nonce == nil {
			d.nonce = make([]byte, aead.NonceSize())
			if _, err := io.ReadFull(d.reader, d.nonce); err != nil {
				return wrapError(ErrShortInput, err, ErrCodeShortInput, "failed to read stream nonce")
			}
			flag, sealed, err := d.readSealed(aead.Overhead())
			if err != nil {
				return err
			}
			d.pending = pendingChunk{flag: flag, sealed: sealed}
		}
		if len(d.nonce) != aead.NonceSize() {
			continue
		}
		pt, err := d.openPending(aead)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.aead = aead
		d.remaining = pt
		d.pending = pendingChunk{}
		d.headerRead = true
		return nil
	}
	if firstErr != nil {
		return firstErr
	}
	return newError(ErrValidationFailed, ErrCodeValidation, "no candidate key can decrypt the stream")
}

// pendingChunk is the first chunk, held while candidates are tried.
type pendingChunk struct {
	flag   byte
	sealed []byte
}

func (d *streamDecryptor) openPending(aead cipher.AEAD) ([]byte, error) {
	p := d.pending
	pt, err := aead.Open(nil, chunkNonce(d.nonce, 0), p.sealed, chunkAAD(d.prefix, 0, p.flag))
	if err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeDecrypt, "stream chunk failed to authenticate")
	}
	d.index = 1
	d.finished = p.flag == 1
	return pt, nil
}

// readSealed reads one [flag][length][sealed] record.
func (d *streamDecryptor) readSealed(overhead int) (byte, []byte, error) {
	var chunkHeader [5]byte
	if _, err := io.ReadFull(d.reader, chunkHeader[:]); err != nil {
		return 0, nil, wrapError(ErrValidationFailed, err, ErrCodeStreamIO, "stream truncated before final chunk")
	}
	flag := chunkHeader[0]
	if flag > 1 {
		return 0, nil, newError(ErrValidationFailed, ErrCodeStreamIO, "invalid chunk flag")
	}
	size := binary.BigEndian.Uint32(chunkHeader[1:])
	if uint64(size) > uint64(d.chunkSize+overhead) {
		return 0, nil, newError(ErrValidationFailed, ErrCodeStreamIO, "chunk size exceeds maximum")
	}
	sealed := make([]byte, size)
	if _, err := io.ReadFull(d.reader, sealed); err != nil {
		return 0, nil, wrapError(ErrValidationFailed, err, ErrCodeStreamIO, "failed to read encrypted chunk")
	}
	return flag, sealed, nil
}

// readNextChunk reads and decrypts the chunk after the first one.
func (d *streamDecryptor) readNextChunk() ([]byte, error) {
	flag, sealed, err := d.readSealed(d.aead.Overhead())
	if err != nil {
		return nil, err
	}
	pt, err := d.aead.Open(nil, chunkNonce(d.nonce, d.index), sealed, chunkAAD(d.prefix, d.index, flag))
	if err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeDecrypt, "stream chunk failed to authenticate")
	}
	d.index++
	d.finished = flag == 1
	return pt, nil
}

// chunkNonce XORs index into the last four bytes of the base nonce.
func chunkNonce(base []byte, index uint32) []byte {
	n := append([]byte(nil), base...)
	tail := n[len(n)-4:]
	binary.BigEndian.PutUint32(tail, binary.BigEndian.Uint32(tail)^index)
	return n
}

// chunkAAD returns prefix || index || flag.
func chunkAAD(prefix []byte, index uint32, flag byte) []byte {
	aad := make([]byte, 0, len(prefix)+5)
	aad = append(aad, prefix...)
	aad = binary.BigEndian.AppendUint32(aad, index)
	return append(aad, flag)
}
