package database

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	bucketSecrets  = "secrets"
	bucketSettings = "settings"

	defaultOpenTimeout = 5 * time.Second
)

// ErrLocked is returned by Open when another process holds the database.
var ErrLocked = errors.New("database is locked by another bidctl process")

// CorruptedError reports a stored record that cannot be decrypted or decoded.
type CorruptedError struct {
	Key string
	Err error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("record %q is corrupted: %v", e.Key, e.Err)
}

func (e *CorruptedError) Unwrap() error {
	return e.Err
}

// Corrupted lets callers detect the condition without importing this package.
func (e *CorruptedError) Corrupted() bool {
	return true
}

type Options struct {
	// Keys supplies the secret encryption key. Required.
	Keys KeyProvider
	// OpenTimeout bounds how long Open waits for the file lock.
	OpenTimeout time.Duration
	Log         *zap.SugaredLogger
}

// Database is the local bbolt store holding encrypted secrets and plain
// settings. The file lock held while open serializes bidctl processes, and
// every write is a single transaction.
type Database struct {
	db   *bbolt.DB
	aead cipher.AEAD
	log  *zap.SugaredLogger
}

func Open(path string, opts Options) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if opts.Keys == nil {
		return nil, errors.New("key provider is required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}

	key, err := opts.Keys.Key()
	if err != nil {
		return nil, fmt.Errorf("failed to load database key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid database key: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketSecrets, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debugw("Opened database", "path", path)
	return &Database{db: db, aead: aead, log: log}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Path() string {
	return d.db.Path()
}

// GetSecret returns the decrypted secret stored under key.
func (d *Database) GetSecret(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var sealed []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucketSecrets)).Get([]byte(key)); v != nil {
			// bbolt values are only valid inside the transaction
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read secret: %w", err)
	}
	if sealed == nil {
		return "", false, nil
	}
	plain, err := d.open(key, sealed)
	if err != nil {
		return "", false, &CorruptedError{Key: key, Err: err}
	}
	return string(plain), true, nil
}

// SetSecret encrypts value and replaces the record atomically.
func (d *Database) SetSecret(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sealed, err := d.seal(key, []byte(value))
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSecrets)).Put([]byte(key), sealed)
	})
}

// DeleteSecret removes key; deleting a missing key is not an error.
func (d *Database) DeleteSecret(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSecrets)).Delete([]byte(key))
	})
}

// SecretKeys lists the stored secret keys without decrypting them.
func (d *Database) SecretKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSecrets)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Sealed records are nonce || ciphertext, with the record key as associated
// data so a value cannot be moved to another key.
func (d *Database) seal(key string, plain []byte) ([]byte, error) {
	nonce := make([]byte, d.aead.NonceSize(), d.aead.NonceSize()+len(plain)+d.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return d.aead.Seal(nonce, nonce, plain, []byte(key)), nil
}

func (d *Database) open(key string, sealed []byte) ([]byte, error) {
	if len(sealed) < d.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:d.aead.NonceSize()], sealed[d.aead.NonceSize():]
	plain, err := d.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plain, nil
}
