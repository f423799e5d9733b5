package database

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeyStorageKeychain = "keychain"
	KeyStorageFile     = "file"

	keyringService = "bidctl"
	keyringUser    = "database-key"
	keyFileName    = "data.key"
)

// KeyProvider supplies the symmetric key protecting secrets at rest.
type KeyProvider interface {
	Key() ([]byte, error)
}

// NewKeyProvider returns the provider for a key-storage setting. The file
// provider keeps its key in dir.
func NewKeyProvider(storage, dir string) (KeyProvider, error) {
	switch strings.ToLower(storage) {
	case "", KeyStorageKeychain:
		return &KeychainKeyProvider{Service: keyringService, User: keyringUser}, nil
	case KeyStorageFile:
		return &FileKeyProvider{Path: filepath.Join(dir, keyFileName)}, nil
	default:
		return nil, fmt.Errorf("unsupported key storage: %s (expected %s or %s)", storage, KeyStorageKeychain, KeyStorageFile)
	}
}

// KeychainKeyProvider keeps the key in the OS keychain, creating it on first use.
type KeychainKeyProvider struct {
	Service string
	User    string
}

func (p *KeychainKeyProvider) Key() ([]byte, error) {
	encoded, err := keyring.Get(p.Service, p.User)
	if errors.Is(err, keyring.ErrNotFound) {
		key, genErr := newKey()
		if genErr != nil {
			return nil, genErr
		}
		if err := keyring.Set(p.Service, p.User, base64.StdEncoding.EncodeToString(key)); err != nil {
			return nil, fmt.Errorf("failed to store key in keychain: %w", err)
		}
		return key, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key from keychain: %w", err)
	}
	return decodeKey(encoded)
}

// FileKeyProvider keeps the key in a 0600 file for systems without a keychain.
type FileKeyProvider struct {
	Path string
}

func (p *FileKeyProvider) Key() ([]byte, error) {
	content, err := os.ReadFile(p.Path)
	if err == nil {
		return decodeKey(string(content))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key dir: %w", err)
	}
	tmp, err := writeTempKey(dir, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = os.Remove(tmp)
	}()
	// The key file only ever appears complete. Link fails if another process
	// got there first, in which case its key wins.
	if err := os.Link(tmp, p.Path); err != nil {
		if os.IsExist(err) {
			content, err := os.ReadFile(p.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to read key file: %w", err)
			}
			return decodeKey(string(content))
		}
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	return key, nil
}

func writeTempKey(dir string, key []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".data.key-*")
	if err != nil {
		return "", fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(base64.StdEncoding.EncodeToString(key)); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	return f.Name(), nil
}

func newKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key has %d bytes, expected %d", len(key), chacha20poly1305.KeySize)
	}
	return key, nil
}
