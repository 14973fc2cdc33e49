// Package crypto implements the content encryption used by the transfer
// registry: a fresh random AES-256-GCM key per transfer, optionally wrapped
// by a password-derived key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	idLength  = 16
	keyLength = 32
	nonceSize = 12 // GCM standard nonce size
	saltSize  = 16

	// PBKDF2 iteration count. Deliberately slow to resist offline
	// brute force of the wrapping key.
	kdfIterations = 100_000
)

var (
	ErrWrongPassword  = errors.New("wrong password")
	ErrCorruptPayload = errors.New("corrupt payload")
)

// KeyHandle carries the key material for one transfer. Exactly one of Key or
// WrappedKey is set: Key holds the raw content key when no password gates the
// transfer, WrappedKey holds the content key sealed under the password-derived
// wrapping key, with the KDF salt alongside. The password itself is never
// stored.
type KeyHandle struct {
	Key        []byte
	WrappedKey []byte
	Salt       []byte
}

func (kh *KeyHandle) Protected() bool {
	return len(kh.WrappedKey) > 0
}

// Clone returns a handle with its own backing arrays. Wiping one copy leaves
// the other intact.
func (kh *KeyHandle) Clone() KeyHandle {
	return KeyHandle{
		Key:        append([]byte(nil), kh.Key...),
		WrappedKey: append([]byte(nil), kh.WrappedKey...),
		Salt:       append([]byte(nil), kh.Salt...),
	}
}

// Wipe zeroes all key material. The handle is unusable afterwards.
func (kh *KeyHandle) Wipe() {
	wipe(kh.Key)
	wipe(kh.WrappedKey)
	wipe(kh.Salt)
	kh.Key = nil
	kh.WrappedKey = nil
	kh.Salt = nil
}

// GenerateID returns an unguessable url-safe token. It backs transfer ids,
// which double as access tokens.
func GenerateID() string {
	bytes := make([]byte, idLength)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// Encrypt seals plaintext under a fresh random content key. If password is
// non-empty the content key is wrapped (see KeyHandle) and the raw key is not
// retained anywhere outside the returned handle.
func Encrypt(plaintext []byte, password string) ([]byte, KeyHandle, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, KeyHandle{}, fmt.Errorf("key generation failed: %w", err)
	}

	ciphertext, err := seal(plaintext, key)
	if err != nil {
		wipe(key)
		return nil, KeyHandle{}, err
	}

	if password == "" {
		return ciphertext, KeyHandle{Key: key}, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		wipe(key)
		return nil, KeyHandle{}, fmt.Errorf("salt generation failed: %w", err)
	}

	wrappingKey := deriveKey(password, salt)
	wrapped, err := seal(key, wrappingKey)
	wipe(wrappingKey)
	wipe(key)
	if err != nil {
		return nil, KeyHandle{}, err
	}

	return ciphertext, KeyHandle{WrappedKey: wrapped, Salt: salt}, nil
}

// UnwrapKey recovers the content key from a handle. For protected handles a
// failed unseal means the password is wrong; the error shape does not depend
// on how close the attempt was. The caller owns the returned key and should
// wipe it after use.
func UnwrapKey(kh KeyHandle, password string) ([]byte, error) {
	if !kh.Protected() {
		key := make([]byte, len(kh.Key))
		copy(key, kh.Key)
		return key, nil
	}

	if password == "" {
		return nil, ErrWrongPassword
	}

	wrappingKey := deriveKey(password, kh.Salt)
	key, err := open(kh.WrappedKey, wrappingKey)
	wipe(wrappingKey)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return key, nil
}

// Open decrypts ciphertext with an unwrapped content key. An authentication
// failure here means the stored payload was tampered with or damaged, not
// that the password was wrong.
func Open(ciphertext, key []byte) ([]byte, error) {
	plaintext, err := open(ciphertext, key)
	if err != nil {
		return nil, ErrCorruptPayload
	}
	return plaintext, nil
}

// Decrypt is the one-shot composition of UnwrapKey and Open.
func Decrypt(ciphertext []byte, kh KeyHandle, password string) ([]byte, error) {
	key, err := UnwrapKey(kh, password)
	if err != nil {
		return nil, err
	}
	defer wipe(key)
	return Open(ciphertext, key)
}

func seal(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(ciphertext, key []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}

	nonce := ciphertext[:nonceSize]
	return gcm.Open(nil, nonce, ciphertext[nonceSize:], nil)
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, keyLength, sha256.New)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
