// Package keyczar manages versioned cryptographic key sets and performs
// encryption and signing through a self-describing binary envelope.
//
// This package offers:
//   - Key sets with a rotation state machine (Primary, Active, Inactive) and revocation
//   - AES-GCM, XChaCha20-Poly1305, HMAC-SHA256, RSA, ECDSA, ML-DSA-65 and ML-KEM-768 key types
//   - A compact envelope header (format version + 4-byte key hash) with collision-tolerant key resolution
//   - Plain, attached, expiring and unversioned ("vanilla") sign/verify and encrypt/decrypt variants
//   - Hybrid sessions: an ephemeral symmetric key wrapped by an asymmetric key set
//   - Key set writer chains: password-based (PBE), nested key set, and HSM wrapping at rest
//   - Chunked stream encryption, PEM export and import
//
// Storage backends live in the storage subpackage and the keyczart command
// manages key sets from the shell.
//
// # Quick Start
//
// Create a key set, rotate in a Primary key, and encrypt:
//
//	meta := keyczar.NewKeyMetadata("payments", keyczar.PurposeDecryptAndEncrypt, keyczar.KeyTypeAES)
//	mks, err := keyczar.NewEmptyMutableKeySet(meta)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := mks.AddKey(keyczar.StatusPrimary); err != nil {
//		log.Fatal(err)
//	}
//	ks, _ := mks.KeySet()
//	crypter, _ := keyczar.NewCrypter(ks)
//
//	ciphertext, err := crypter.Encrypt([]byte("sensitive data"))
//	plaintext, err := crypter.Decrypt(ciphertext)
//
// # Envelope
//
// Every versioned output starts with a 5-byte header:
//
//	[0x00 format version][4-byte key hash][payload]
//
// The key hash is the first four bytes of SHA-256 over the key's length-prefixed
// identifying components. Because it is short, two keys of one set may share
// a hash; decryption and verification try every matching key in ascending
// version order. ErrKeyNotFound means no key matched, ErrValidationFailed means
// keys matched but none validated. Verify methods report a failed validation
// as false rather than an error.
//
// # Rotation
//
//	v2, _ := mks.AddKey(keyczar.StatusPrimary) // v1 becomes Active
//	mks.Demote(1)                               // v1 becomes Inactive
//	mks.Revoke(1)                               // v1 is removed, its number is never reused
//	err := mks.Save(ctx, writer)
//
// Save stages metadata and keys on the writer and commits them on Finish; any
// failure discards the staged writes and leaves the stored key set untouched.
//
// # Keys at Rest
//
// Key data can be protected with a password, another key set, or an HSM:
//
//	w := keyczar.NewPBEWriter(storage.NewFileWriter(dir, nil), keyczar.StaticPassword(pw), nil)
//	r := keyczar.NewPBEReader(storage.NewFileReader(dir, nil), keyczar.StaticPassword(pw))
//
// # Logging
//
// The package logs through logrus at debug and info levels. Entries carry key
// set names, versions and key hashes, never key material. Use SetLogger to
// route them to the host's logger.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package keyczar
