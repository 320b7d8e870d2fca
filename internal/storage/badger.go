package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerCache implements ResolutionCache using BadgerDB.
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
	log logrus.FieldLogger
}

// NewBadgerCache opens (or creates) the cache database at dbPath. Entries expire
// after ttl; a zero ttl keeps them forever.
func NewBadgerCache(dbPath string, ttl time.Duration, logger logrus.FieldLogger) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.WithField("path", dbPath).Info("Resolution cache opened")

	return &BadgerCache{
		db:  db,
		ttl: ttl,
		log: logger.WithField("component", "resolution_cache"),
	}, nil
}

// Close closes the BadgerDB database.
func (c *BadgerCache) Close() error {
	c.log.Info("Closing BadgerDB...")
	if err := c.db.Close(); err != nil {
		c.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	c.log.Info("BadgerDB closed.")
	return nil
}

// resolutionKey format: resolution:{kind}:{url}
func resolutionKey(kind LookupKind, url string) []byte {
	return []byte(fmt.Sprintf("resolution:%s:%s", kind, url))
}

// SaveResolution stores or overwrites a resolution.
func (c *BadgerCache) SaveResolution(ctx context.Context, res Resolution) error {
	if res.FetchedAt.IsZero() {
		res.FetchedAt = time.Now().UTC()
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution: %w", err)
	}

	key := resolutionKey(res.Kind, res.URL)
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		c.log.WithError(err).WithField("url", res.URL).Error("Failed to save resolution")
		return fmt.Errorf("failed to save resolution: %w", err)
	}
	return nil
}

// GetResolution looks a resolution up by kind and URL.
func (c *BadgerCache) GetResolution(ctx context.Context, kind LookupKind, url string) (Resolution, bool, error) {
	var res Resolution
	found := false

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resolutionKey(kind, url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &res); err != nil {
				return fmt.Errorf("failed to unmarshal resolution for key %s: %w", string(item.Key()), err)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Resolution{}, false, fmt.Errorf("failed to get resolution for %s: %w", url, err)
	}
	return res, found, nil
}

// DeleteResolution removes a cached resolution.
func (c *BadgerCache) DeleteResolution(ctx context.Context, kind LookupKind, url string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(resolutionKey(kind, url))
	})
	if err != nil {
		return fmt.Errorf("failed to delete resolution %s: %w", url, err)
	}
	return nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
