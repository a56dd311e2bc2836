// Package crypto provides authenticated encryption for connection
// secrets stored at rest (spec.md §6's data_sources.connection_config),
// the same concern the teacher covers for credentials with bcrypt, just
// for secrets that must be decrypted again rather than only compared.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/triflow-ai/core/internal/errs"
)

const (
	pbkdf2Iterations = 100_000
	saltSize         = 16
)

// deriveKey stretches the operator-supplied passphrase into a key sized
// for chacha20poly1305, salted per ciphertext so two secrets encrypted
// under the same passphrase never share a key.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha256.New)
}

// Seal encrypts plaintext under passphrase, returning salt || nonce ||
// ciphertext. Safe to store the result directly as an opaque blob.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errs.Wrap(errs.Internal, "generate salt", err)
	}
	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "init cipher", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.Internal, "generate nonce", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open reverses Seal, returning the original plaintext.
func Open(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltSize {
		return nil, errs.New(errs.Validation, "ciphertext too short")
	}
	salt, rest := blob[:saltSize], blob[saltSize:]
	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "init cipher", err)
	}
	if len(rest) < aead.NonceSize() {
		return nil, errs.New(errs.Validation, "ciphertext too short")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "decrypt connection config", err)
	}
	return plaintext, nil
}
