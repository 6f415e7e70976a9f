// session.go: Hybrid session encryption with an ephemeral symmetric key.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"encoding/json"
	"fmt"
)

// SessionOptions configures a session.
type SessionOptions struct {
	// KeyType is the symmetric session key type. Default KeyTypeAES.
	KeyType KeyType
	// Size is the session key size in bits. Zero selects the type default.
	Size int
	// Secret is bound into the attached signature over the session material
	// when a signer is used. Sender and receiver must agree on it.
	Secret []byte
}

func (o *SessionOptions) withDefaults() SessionOptions {
	out := SessionOptions{}
	if o != nil {
		out = *o
	}
	if out.KeyType == "" {
		out.KeyType = KeyTypeAES
	}
	return out
}

// sessionMaterialJSON is the plaintext of the wrapped session material.
type sessionMaterialJSON struct {
	Type KeyType         `json:"type"`
	Key  json.RawMessage `json:"key"`
}

// SessionCrypter encrypts and decrypts bulk payloads with an ephemeral
// symmetric key. The key travels as session material wrapped by an
// asymmetric Encrypter and, optionally, signed with an AttachedSigner.
//
// Sender:
//
//	sess, err := keyczar.NewSessionCrypter(recipientEncrypter, senderSigner, nil)
//	ct, err := sess.Encrypt(payload)
//	send(sess.Material(), ct)
//
// Receiver:
//
//	sess, err := keyczar.OpenSessionCrypter(recipientCrypter, senderVerifier, material, nil)
//	payload, err := sess.Decrypt(ct)
type SessionCrypter struct {
	crypter  *Crypter
	material []byte
}

// NewSessionCrypter generates a session key, encrypts its serialized form with
// enc and, when signer is non-nil, signs the encrypted material with it.
func NewSessionCrypter(enc *Encrypter, signer *AttachedSigner, opts *SessionOptions) (*SessionCrypter, error) {
	if enc == nil {
		return nil, newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, "session encrypter cannot be nil")
	}
	o := opts.withDefaults()
	if !o.KeyType.IsSymmetric() || !o.KeyType.Supports(PurposeDecryptAndEncrypt) {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("%s cannot be used as a session key", o.KeyType))
	}
	key, err := GenerateKey(o.KeyType, o.Size)
	if err != nil {
		return nil, err
	}

	keyData, err := key.Marshal()
	if err != nil {
		key.Destroy()
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeSerialization, "failed to serialize session key")
	}
	defer Zeroize(keyData)
	plain, err := json.Marshal(sessionMaterialJSON{Type: key.Type(), Key: keyData})
	if err != nil {
		key.Destroy()
		return nil, wrapError(ErrKeyGeneration, err, ErrCodeSerialization, "failed to serialize session material")
	}
	defer Zeroize(plain)

	material, err := enc.Encrypt(plain)
	if err != nil {
		key.Destroy()
		return nil, err
	}
	if signer != nil {
		material, err = signer.Sign(material, o.Secret)
		if err != nil {
			key.Destroy()
			return nil, err
		}
	}

	logFor("NewSessionCrypter").WithField("recipient", enc.ks.Name()).WithField("signed", signer != nil).
		WithField("type", key.Type()).Debug("created session")
	return &SessionCrypter{crypter: sessionCrypter(key), material: material}, nil
}

// OpenSessionCrypter reconstructs a session from material. When verifier is
// non-nil the attached signature must validate before anything is decrypted;
// a failed signature is ErrValidationFailed and no session is created.
func OpenSessionCrypter(dec *Crypter, verifier *AttachedVerifier, material []byte, opts *SessionOptions) (*SessionCrypter, error) {
	if dec == nil {
		return nil, newError(ErrInvalidKeySet, ErrCodeInvalidKeySet, "session crypter cannot be nil")
	}
	o := opts.withDefaults()
	wrapped := material
	if verifier != nil {
		var err error
		wrapped, err = verifier.VerifiedMessage(material, o.Secret)
		if err != nil {
			return nil, err
		}
	}
	plain, err := dec.Decrypt(wrapped)
	if err != nil {
		return nil, err
	}
	defer Zeroize(plain)

	var sm sessionMaterialJSON
	if err := json.Unmarshal(plain, &sm); err != nil {
		return nil, wrapError(ErrValidationFailed, err, ErrCodeSerialization, "malformed session material")
	}
	defer Zeroize(sm.Key)
	if !sm.Type.IsSymmetric() || !sm.Type.Supports(PurposeDecryptAndEncrypt) {
		return nil, newError(ErrInvalidKeyType, ErrCodeInvalidKeyType,
			fmt.Sprintf("session material carries a %s key", sm.Type))
	}
	key, err := ParseKey(sm.Type, sm.Key)
	if err != nil {
		return nil, err
	}
	return &SessionCrypter{crypter: sessionCrypter(key), material: append([]byte(nil), material...)}, nil
}

// sessionCrypter wraps key in a single-version key set.
func sessionCrypter(key Key) *Crypter {
	meta := NewKeyMetadata("session", PurposeDecryptAndEncrypt, key.Type())
	meta.Versions = []*KeyVersion{{VersionNumber: 1, Status: StatusPrimary}}
	meta.LastVersion = 1
	return &Crypter{Encrypter{ks: newKeySet(meta, map[int]Key{1: key})}}
}

// Material returns the session material to transmit to the receiver.
func (s *SessionCrypter) Material() []byte {
	return append([]byte(nil), s.material...)
}

// MaterialString returns Material as web-safe base64.
func (s *SessionCrypter) MaterialString() string { return EncodeWebSafe(s.material) }

// Encrypt encrypts plaintext with the session key.
func (s *SessionCrypter) Encrypt(plaintext []byte) ([]byte, error) {
	return s.crypter.Encrypt(plaintext)
}

// Decrypt decrypts a ciphertext produced by either end of the session.
func (s *SessionCrypter) Decrypt(ciphertext []byte) ([]byte, error) {
	return s.crypter.Decrypt(ciphertext)
}

// Close wipes the session key.
func (s *SessionCrypter) Close() error {
	s.crypter.ks.Destroy()
	return nil
}
