package roomcrypt

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
	keySize    = 32
	iterations = 4096
)

// keySalt is a fixed application salt: every participant must derive the
// same key from the shared room passphrase.
var keySalt = []byte("messaging-core/room-key/v1")

// ErrDecode is returned when ciphertext is malformed or was produced under
// a different key. Callers must treat it as a per-message failure, never a
// session failure.
var ErrDecode = errors.New("roomcrypt: cannot decode ciphertext")

// Codec encrypts and decrypts room payloads with a key derived from the
// room passphrase. AES-256-GCM with a fresh nonce per call; the nonce is
// prepended to the ciphertext and the whole blob is base64 encoded for
// transport inside JSON frames.
type Codec struct {
	aead cipher.AEAD
}

// New derives the room key from the passphrase and builds the codec.
func New(passphrase string) (*Codec, error) {
	if passphrase == "" {
		return nil, errors.New("roomcrypt: empty passphrase")
	}

	key := pbkdf2.Key([]byte(passphrase), keySalt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under the room key. Empty input yields an empty
// ciphertext, not an error.
func (c *Codec) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Empty input yields nil.
// Malformed or wrong-key input fails with ErrDecode.
func (c *Codec) Decrypt(ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) <= nonceSize {
		return nil, fmt.Errorf("%w: truncated payload", ErrDecode)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return plaintext, nil
}

// EncryptString is Encrypt for string payloads.
func (c *Codec) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt for string payloads.
func (c *Codec) DecryptString(ciphertext string) (string, error) {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
