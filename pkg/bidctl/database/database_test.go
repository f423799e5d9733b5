/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/telekom/bidctl/pkg/system"
)

type staticKey []byte

func (k staticKey) Key() ([]byte, error) { return k, nil }

func testKey(b byte) staticKey {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func openTestDB(t *testing.T, path string, keys KeyProvider) *Database {
	t.Helper()
	db, err := Open(path, Options{Keys: keys, OpenTimeout: 200 * time.Millisecond, Log: system.NewTestLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := Open("", Options{Keys: testKey(1)})
	require.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "data.db"), Options{})
	require.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "data.db"), Options{Keys: staticKey([]byte("short"))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database key")
}

func TestOpenCreatesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")
	db := openTestDB(t, path, testKey(1))
	assert.Equal(t, path, db.Path())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSecretsRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")
	db := openTestDB(t, path, testKey(1))

	_, ok, err := db.GetSecret(ctx, "auth:default:builder-id:token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetSecret(ctx, "auth:default:builder-id:token", `{"access_token":"a"}`))
	require.NoError(t, db.SetSecret(ctx, "auth:default:builder-id:token", `{"access_token":"b"}`))

	value, ok, err := db.GetSecret(ctx, "auth:default:builder-id:token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"access_token":"b"}`, value)

	keys, err := db.SecretKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth:default:builder-id:token"}, keys)

	require.NoError(t, db.DeleteSecret(ctx, "auth:default:builder-id:token"))
	require.NoError(t, db.DeleteSecret(ctx, "auth:default:builder-id:token"))
	_, ok, err = db.GetSecret(ctx, "auth:default:builder-id:token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecretsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")

	db, err := Open(path, Options{Keys: testKey(1)})
	require.NoError(t, err)
	require.NoError(t, db.SetSecret(ctx, "k", "v"))
	require.NoError(t, db.Close())

	db = openTestDB(t, path, testKey(1))
	value, ok, err := db.GetSecret(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestSecretsAreEncrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")
	db, err := Open(path, Options{Keys: testKey(1)})
	require.NoError(t, err)
	require.NoError(t, db.SetSecret(ctx, "k", "plain-access-token"))
	require.NoError(t, db.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plain-access-token")
}

func TestWrongKeyIsCorruption(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")
	db, err := Open(path, Options{Keys: testKey(1)})
	require.NoError(t, err)
	require.NoError(t, db.SetSecret(ctx, "k", "v"))
	require.NoError(t, db.Close())

	db = openTestDB(t, path, testKey(2))
	_, ok, err := db.GetSecret(ctx, "k")
	assert.False(t, ok)
	var corrupted *CorruptedError
	require.ErrorAs(t, err, &corrupted)
	assert.Equal(t, "k", corrupted.Key)
	assert.True(t, corrupted.Corrupted())
}

func TestSecretBoundToKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "data.db"), testKey(1))
	require.NoError(t, db.SetSecret(ctx, "a", "value"))

	// moving the ciphertext to another key must not decrypt
	require.NoError(t, db.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSecrets))
		return b.Put([]byte("b"), append([]byte(nil), b.Get([]byte("a"))...))
	}))
	_, _, err := db.GetSecret(ctx, "b")
	var corrupted *CorruptedError
	require.ErrorAs(t, err, &corrupted)
}

func TestOpenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	openTestDB(t, path, testKey(1))

	_, err := Open(path, Options{Keys: testKey(1), OpenTimeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestCancelledContext(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "data.db"), testKey(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, db.SetSecret(ctx, "k", "v"), context.Canceled)
	_, _, err := db.GetSecret(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, db.DeleteSecret(ctx, "k"), context.Canceled)
	require.ErrorIs(t, db.RemoveCustom(ctx, "k"), context.Canceled)
}
