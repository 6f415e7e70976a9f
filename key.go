// key.go: Key material variants, capability interfaces and the key type registry.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"fmt"
)

// KeyType identifies an algorithm family and, for asymmetric algorithms, which
// half of the pair a key holds.
type KeyType string

const (
	KeyTypeAES          KeyType = "AES"           // AES-GCM symmetric key
	KeyTypeXChaCha20    KeyType = "XCHACHA20"     // XChaCha20-Poly1305 symmetric key
	KeyTypeHMACSHA256   KeyType = "HMAC_SHA256"   // HMAC-SHA256 MAC key
	KeyTypeRSAPriv      KeyType = "RSA_PRIV"      // RSA private key (OAEP decrypt, PSS sign)
	KeyTypeRSAPub       KeyType = "RSA_PUB"       // RSA public key (OAEP encrypt, PSS verify)
	KeyTypeECDSAPriv    KeyType = "ECDSA_PRIV"    // ECDSA private key
	KeyTypeECDSAPub     KeyType = "ECDSA_PUB"     // ECDSA public key
	KeyTypeMLDSA65Priv  KeyType = "MLDSA65_PRIV"  // ML-DSA-65 private key
	KeyTypeMLDSA65Pub   KeyType = "MLDSA65_PUB"   // ML-DSA-65 public key
	KeyTypeMLKEM768Priv KeyType = "MLKEM768_PRIV" // ML-KEM-768 private key (hybrid decrypt)
	KeyTypeMLKEM768Pub  KeyType = "MLKEM768_PUB"  // ML-KEM-768 public key (hybrid encrypt)
)

// Key is the common surface of every key variant.
type Key interface {
	// Type reports the variant.
	Type() KeyType
	// Size reports the key size in bits.
	Size() int
	// Hash returns the KeyHashSize-byte identifier carried in envelope headers.
	Hash() []byte
	// Marshal serializes the key to its opaque persisted form.
	Marshal() ([]byte, error)
	// Destroy wipes the key material. The key is unusable afterwards.
	Destroy()
}

// Encryptable keys produce envelope payloads. header is the envelope header
// the payload will be prefixed with (nil for unversioned output); AEAD keys
// bind it as additional data.
type Encryptable interface {
	Key
	Encrypt(header, plaintext []byte) ([]byte, error)
}

// Decryptable keys open payloads produced by the matching Encryptable.
// Authentication failures wrap ErrValidationFailed.
type Decryptable interface {
	Key
	Decrypt(header, payload []byte) ([]byte, error)
}

// Signable keys produce signatures over arbitrary data.
type Signable interface {
	Key
	Sign(data []byte) ([]byte, error)
}

// Verifiable keys check signatures. A mismatch is (false, nil).
type Verifiable interface {
	Key
	Verify(data, signature []byte) (bool, error)
}

// PrivateKey is implemented by keys that carry private asymmetric material.
// PublicKey returns a freshly constructed key holding only the public half;
// it never aliases the private key's buffers.
type PrivateKey interface {
	Key
	PublicKey() Key
}

// keyTypeInfo describes a KeyType for generation, parsing and purpose checks.
type keyTypeInfo struct {
	sizes     []int   // allowed sizes in bits, the first one is the default
	public    KeyType // public counterpart of a private type
	private   bool
	symmetric bool
	generate  func(size int) (Key, error)
	parse     func(data []byte) (Key, error)
	purposes  []KeyPurpose
}

var keyTypes = map[KeyType]*keyTypeInfo{
	KeyTypeAES: {
		sizes:     []int{256, 192, 128},
		symmetric: true,
		generate:  generateAESKey,
		parse:     parseAESKey,
		purposes:  []KeyPurpose{PurposeDecryptAndEncrypt},
	},
	KeyTypeXChaCha20: {
		sizes:     []int{256},
		symmetric: true,
		generate:  generateXChaChaKey,
		parse:     parseXChaChaKey,
		purposes:  []KeyPurpose{PurposeDecryptAndEncrypt},
	},
	KeyTypeHMACSHA256: {
		sizes:     []int{256},
		symmetric: true,
		generate:  generateHMACKey,
		parse:     parseHMACKey,
		purposes:  []KeyPurpose{PurposeSignAndVerify, PurposeSign},
	},
	KeyTypeRSAPriv: {
		sizes:    []int{2048, 3072, 4096},
		public:   KeyTypeRSAPub,
		private:  true,
		generate: generateRSAKey,
		parse:    parseRSAPrivateKey,
		purposes: []KeyPurpose{PurposeDecryptAndEncrypt, PurposeSignAndVerify, PurposeSign},
	},
	KeyTypeRSAPub: {
		sizes:    []int{2048, 3072, 4096},
		parse:    parseRSAPublicKey,
		purposes: []KeyPurpose{PurposeEncrypt, PurposeVerify},
	},
	KeyTypeECDSAPriv: {
		sizes:    []int{256, 384},
		public:   KeyTypeECDSAPub,
		private:  true,
		generate: generateECDSAKey,
		parse:    parseECDSAPrivateKey,
		purposes: []KeyPurpose{PurposeSignAndVerify, PurposeSign},
	},
	KeyTypeECDSAPub: {
		sizes:    []int{256, 384},
		parse:    parseECDSAPublicKey,
		purposes: []KeyPurpose{PurposeVerify},
	},
	KeyTypeMLDSA65Priv: {
		sizes:    []int{mldsaKeySize},
		public:   KeyTypeMLDSA65Pub,
		private:  true,
		generate: generateMLDSAKey,
		parse:    parseMLDSAPrivateKey,
		purposes: []KeyPurpose{PurposeSignAndVerify, PurposeSign},
	},
	KeyTypeMLDSA65Pub: {
		sizes:    []int{mldsaKeySize},
		parse:    parseMLDSAPublicKey,
		purposes: []KeyPurpose{PurposeVerify},
	},
	KeyTypeMLKEM768Priv: {
		sizes:    []int{mlkemKeySize},
		public:   KeyTypeMLKEM768Pub,
		private:  true,
		generate: generateMLKEMKey,
		parse:    parseMLKEMPrivateKey,
		purposes: []KeyPurpose{PurposeDecryptAndEncrypt},
	},
	KeyTypeMLKEM768Pub: {
		sizes:    []int{mlkemKeySize},
		parse:    parseMLKEMPublicKey,
		purposes: []KeyPurpose{PurposeEncrypt},
	},
}

func lookupKeyType(t KeyType) (*keyTypeInfo, error) {
	info, ok := keyTypes[t]
	if !ok {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType, fmt.Sprintf("unknown key type %q", t))
	}
	return info, nil
}

// IsKnown reports whether t is a registered key type.
func (t KeyType) IsKnown() bool {
	_, ok := keyTypes[t]
	return ok
}

// DefaultSize returns the size used when AddKey is called without one.
func (t KeyType) DefaultSize() int {
	if info, ok := keyTypes[t]; ok {
		return info.sizes[0]
	}
	return 0
}

// IsValidSize reports whether size is accepted for t.
func (t KeyType) IsValidSize(size int) bool {
	info, ok := keyTypes[t]
	if !ok {
		return false
	}
	for _, s := range info.sizes {
		if s == size {
			return true
		}
	}
	return false
}

// IsPrivate reports whether t carries private asymmetric material.
func (t KeyType) IsPrivate() bool {
	info, ok := keyTypes[t]
	return ok && info.private
}

// IsSymmetric reports whether t is a symmetric cipher or MAC key.
func (t KeyType) IsSymmetric() bool {
	info, ok := keyTypes[t]
	return ok && info.symmetric
}

// PublicType returns the public counterpart of a private type, or "" when t
// has none.
func (t KeyType) PublicType() KeyType {
	if info, ok := keyTypes[t]; ok {
		return info.public
	}
	return ""
}

// Supports reports whether a key set of type t may be declared with purpose p.
func (t KeyType) Supports(p KeyPurpose) bool {
	info, ok := keyTypes[t]
	if !ok {
		return false
	}
	for _, allowed := range info.purposes {
		if allowed == p {
			return true
		}
	}
	return false
}

// GenerateKey creates fresh key material of type t. A zero size selects the
// type's default.
//
// Example:
//
//	k, err := keyczar.GenerateKey(keyczar.KeyTypeAES, 0)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer k.Destroy()
func GenerateKey(t KeyType, size int) (Key, error) {
	info, err := lookupKeyType(t)
	if err != nil {
		return nil, err
	}
	if info.generate == nil {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("%s keys are derived from private keys and cannot be generated", t))
	}
	if size == 0 {
		size = info.sizes[0]
	}
	if !t.IsValidSize(size) {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("unsupported size %d for %s", size, t))
	}
	k, err := info.generate(size)
	if err != nil {
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeKeyGeneration, fmt.Sprintf("failed to generate %s key", t))
	}
	logFor("GenerateKey").WithField("type", t).WithField("size", size).
		WithField("hash", KeyFingerprint(k)).Debug("generated key")
	return k, nil
}

// ParseKey reconstructs a key of type t from its persisted form.
func ParseKey(t KeyType, data []byte) (Key, error) {
	info, err := lookupKeyType(t)
	if err != nil {
		return nil, err
	}
	k, err := info.parse(data)
	if err != nil {
		return nil, wrapError(ErrInvalidKeySet, err, ErrCodeSerialization, fmt.Sprintf("failed to parse %s key", t))
	}
	return k, nil
}

// copyKey produces an independent copy of k by round-tripping its persisted form.
func copyKey(k Key) (Key, error) {
	data, err := k.Marshal()
	if err != nil {
		return nil, wrapError(ErrInvalidKeySet, err, ErrCodeSerialization, "failed to serialize key for copy")
	}
	defer Zeroize(data)
	return ParseKey(k.Type(), data)
}
