package database

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// GetSetting returns the JSON decoded value of key.
func (d *Database) GetSetting(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucketSettings)).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read setting: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, &CorruptedError{Key: key, Err: err}
	}
	return value, true, nil
}

func (d *Database) SetSetting(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSettings)).Put([]byte(key), raw)
	})
}

// RemoveCustom drops a user override so the default applies again.
func (d *Database) RemoveCustom(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSettings)).Delete([]byte(key))
	})
}

// Settings returns every stored setting. Unreadable values are skipped and
// logged.
func (d *Database) Settings(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := map[string]any{}
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSettings)).ForEach(func(k, v []byte) error {
			var value any
			if err := json.Unmarshal(v, &value); err != nil {
				d.log.Warnw("Skipping unreadable setting", "key", string(k), "error", err)
				return nil
			}
			out[string(k)] = value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
