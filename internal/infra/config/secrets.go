package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// sealedPrefix marks a config value produced by SealSecret.
const sealedPrefix = "enc:"

const saltSize = 16

// SealSecret encrypts plaintext with AES-256-GCM under a key derived from
// passphrase. The result carries the "enc:" prefix and can be pasted into
// the api_key fields of the config file.
func SealSecret(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// OpenSecret reverses SealSecret. Values without the "enc:" prefix are
// returned unchanged.
func OpenSecret(value, passphrase string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	saltHex, dataHex, ok := strings.Cut(strings.TrimPrefix(value, sealedPrefix), ":")
	if !ok {
		return "", fmt.Errorf("invalid sealed secret format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// openSecrets decrypts every sealed credential in cfg in place.
func openSecrets(cfg *Config, passphrase string) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"embedding.api_key", &cfg.Embedding.APIKey},
		{"llm.api_key", &cfg.LLM.APIKey},
	}
	for i := range cfg.Gateway.Tokens {
		fields = append(fields, struct {
			name string
			ptr  *string
		}{fmt.Sprintf("gateway.tokens[%d].token", i), &cfg.Gateway.Tokens[i].Token})
	}
	for _, f := range fields {
		v, err := OpenSecret(*f.ptr, passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = v
	}
	return nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
