package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoPassphrase    = errors.New("keystore passphrase is not set (KEYSTORE_PASSPHRASE)")
	ErrWrongPassphrase = errors.New("keystore passphrase is incorrect or the file is corrupt")
)

// keystoreFile is the on-disk envelope; Data holds the sealed secrets map
type keystoreFile struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Data    []byte `json:"data"`
}

// KeyStore keeps provider API keys encrypted at rest. Secrets are only
// decrypted in memory and never logged.
type KeyStore struct {
	path string
	enc  *Encryptor
	salt []byte

	mu      sync.RWMutex
	secrets map[string]string
}

// OpenKeyStore decrypts the keystore at path, or starts an empty one when
// the file does not exist yet.
func OpenKeyStore(path, passphrase string) (*KeyStore, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		salt, err := NewSalt()
		if err != nil {
			return nil, err
		}
		enc, err := DeriveEncryptor(passphrase, salt)
		if err != nil {
			return nil, err
		}
		return &KeyStore{path: path, enc: enc, salt: salt, secrets: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	var file keystoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	enc, err := DeriveEncryptor(passphrase, file.Salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := enc.Decrypt(file.Data)
	if err != nil {
		return nil, err
	}

	secrets := map[string]string{}
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to decode keystore secrets: %w", err)
	}
	return &KeyStore{path: path, enc: enc, salt: file.Salt, secrets: secrets}, nil
}

// Get returns the secret stored for provider
func (k *KeyStore) Get(provider string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.secrets[normalizeProvider(provider)]
	return s, ok
}

// Set stores secret for provider and writes the keystore
func (k *KeyStore) Set(provider, secret string) error {
	provider = normalizeProvider(provider)
	secret = strings.TrimSpace(secret)
	if provider == "" || secret == "" {
		return fmt.Errorf("provider and secret are required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.secrets[provider] = secret
	return k.saveLocked()
}

// Delete removes provider's secret; it reports whether one existed
func (k *KeyStore) Delete(provider string) (bool, error) {
	provider = normalizeProvider(provider)

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.secrets[provider]; !ok {
		return false, nil
	}
	delete(k.secrets, provider)
	return true, k.saveLocked()
}

// Providers lists providers with a stored secret, sorted
func (k *KeyStore) Providers() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.secrets))
	for name := range k.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (k *KeyStore) saveLocked() error {
	plaintext, err := json.Marshal(k.secrets)
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	sealed, err := k.enc.Encrypt(plaintext)
	if err != nil {
		return err
	}
	data, err := json.Marshal(keystoreFile{Version: 1, Salt: k.salt, Data: sealed})
	if err != nil {
		return fmt.Errorf("failed to encode keystore: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace keystore: %w", err)
	}
	return nil
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Mask shows the first and last few characters of a secret
func Mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
