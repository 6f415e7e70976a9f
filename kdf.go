// kdf.go: Password-based key derivation for key sets encrypted at rest.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	pbkdf2 "golang.org/x/crypto/pbkdf2"
)

// KDFAlgorithm names a password-based key derivation function.
type KDFAlgorithm string

const (
	KDFPBKDF2SHA256 KDFAlgorithm = "PBKDF2_HMAC_SHA256" // default, interoperable
	KDFArgon2id     KDFAlgorithm = "ARGON2ID"           // memory-hard
)

// Default derivation parameters
const (
	// DefaultIterations is the PBKDF2 iteration count for new PBE records.
	DefaultIterations = 4096

	// DefaultTime is the Argon2id number of passes.
	DefaultTime = 3

	// DefaultMemory is the Argon2id memory cost in MB.
	DefaultMemory = 64

	// DefaultThreads is the Argon2id parallelism.
	DefaultThreads = 4

	// DefaultSaltSize is the salt length in bytes.
	DefaultSaltSize = 16
)

// KDFParams holds the Argon2id cost parameters. Zero fields take the defaults.
type KDFParams struct {
	Time    uint32 `json:"time,omitempty"`    // number of passes
	Memory  uint32 `json:"memory,omitempty"`  // memory in MB
	Threads uint8  `json:"threads,omitempty"` // parallelism
}

// PBEParams configures password-based wrapping of key data.
type PBEParams struct {
	// KDF selects the derivation function. Default KDFPBKDF2SHA256.
	KDF KDFAlgorithm
	// Iterations is the PBKDF2 iteration count. Default DefaultIterations.
	Iterations int
	// Argon2 holds the Argon2id costs when KDF is KDFArgon2id.
	Argon2 *KDFParams
	// SaltSize is the random salt length. Default DefaultSaltSize.
	SaltSize int
}

// FastKDFParams returns Argon2id parameters for tests and low-power hosts.
func FastKDFParams() *KDFParams {
	return &KDFParams{
		Time:    1,  // Minimal iterations for speed
		Memory:  32, // Reduced memory footprint
		Threads: 2,  // Fewer threads for lower resource usage
	}
}

// HighSecurityKDFParams returns Argon2id parameters for long-lived master key sets.
func HighSecurityKDFParams() *KDFParams {
	return &KDFParams{
		Time:    5,   // Higher iteration count
		Memory:  128, // Double memory usage
		Threads: 4,   // Standard parallel processing
	}
}

func (p *PBEParams) withDefaults() PBEParams {
	out := PBEParams{}
	if p != nil {
		out = *p
	}
	if out.KDF == "" {
		out.KDF = KDFPBKDF2SHA256
	}
	if out.Iterations <= 0 {
		out.Iterations = DefaultIterations
	}
	if out.SaltSize <= 0 {
		out.SaltSize = DefaultSaltSize
	}
	if out.KDF == KDFArgon2id {
		a := KDFParams{Time: DefaultTime, Memory: DefaultMemory, Threads: DefaultThreads}
		if out.Argon2 != nil {
			if out.Argon2.Time > 0 {
				a.Time = out.Argon2.Time
			}
			if out.Argon2.Memory > 0 {
				a.Memory = out.Argon2.Memory
			}
			if out.Argon2.Threads > 0 {
				a.Threads = out.Argon2.Threads
			}
		}
		out.Argon2 = &a
	}
	return out
}

// DeriveKey derives keyLen bytes from password and salt with the selected KDF.
//
// Parameters:
//   - password: Secret password, must not be empty
//   - salt: Random salt, must not be empty
//   - keyLen: Output length in bytes
//   - params: Derivation parameters, nil for PBKDF2-HMAC-SHA256 with DefaultIterations
//
// The caller owns the returned key and should Zeroize it when done.
func DeriveKey(password, salt []byte, keyLen int, params *PBEParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, newError(ErrPasswordRequired, ErrCodePassword, "password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, newError(ErrKeyGeneration, ErrCodeKeyGeneration, "salt cannot be empty")
	}
	if keyLen <= 0 {
		return nil, newError(ErrKeyGeneration, ErrCodeKeyGeneration, "key length must be positive")
	}

	p := params.withDefaults()
	switch p.KDF {
	case KDFPBKDF2SHA256:
		return pbkdf2.Key(password, salt, p.Iterations, keyLen, sha256.New), nil
	case KDFArgon2id:
		return argon2.IDKey(password, salt, p.Argon2.Time, p.Argon2.Memory*1024, p.Argon2.Threads, uint32(keyLen)), nil // #nosec G115 -- keyLen is a small positive constant
	default:
		return nil, newError(ErrUnsupportedFormat, ErrCodeUnsupportedFormat, fmt.Sprintf("unknown KDF %q", p.KDF))
	}
}
