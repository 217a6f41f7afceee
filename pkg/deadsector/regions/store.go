// Package regions keeps an index of device offsets that failed to read,
// accumulated across raw scans.
package regions

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
)

var logger = logging.Get("regions")

// Store wraps Badger for the region index.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates the index at path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening region store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record adds one hit for every offset of device seen at time at and
// returns how many offsets were not in the index before. Existing records
// are read in one view and the updates go through a write batch, which
// splits into as many transactions as the offset list needs.
func (s *Store) Record(device string, blockSize int, offsets []uint64, at time.Time) (int, error) {
	if len(offsets) == 0 {
		return 0, nil
	}

	pending := make(map[uint64]*record, len(offsets))
	order := make([]uint64, 0, len(offsets))
	added := 0

	err := s.db.View(func(txn *badger.Txn) error {
		for _, off := range offsets {
			rec, seen := pending[off]
			if !seen {
				rec = &record{BlockSize: blockSize, FirstSeen: at.UnixNano()}
				item, err := txn.Get(MakeKey(device, off))
				switch {
				case errors.Is(err, badger.ErrKeyNotFound):
					added++
				case err != nil:
					return err
				default:
					if err := item.Value(rec.decode); err != nil {
						return err
					}
				}
				pending[off] = rec
				order = append(order, off)
			}
			rec.Hits++
			rec.BlockSize = blockSize
			rec.LastSeen = at.UnixNano()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recording regions for %s: %w", device, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, off := range order {
		value, err := pending[off].encode()
		if err != nil {
			return 0, fmt.Errorf("recording regions for %s: %w", device, err)
		}
		if err := wb.Set(MakeKey(device, off), value); err != nil {
			return 0, fmt.Errorf("recording regions for %s: %w", device, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("recording regions for %s: %w", device, err)
	}

	logger.Debug("regions recorded", "device", device, "offsets", len(offsets), "new", added)
	return added, nil
}

// List returns the regions of device in offset order.
func (s *Store) List(device string) ([]Region, error) {
	prefix := MakeKeyPrefix(device)
	regions := []Region{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			dev, off, err := ParseKey(item.Key())
			if err != nil || dev != device {
				continue
			}
			var rec record
			if err := item.Value(rec.decode); err != nil {
				return err
			}
			regions = append(regions, rec.region(dev, off))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing regions for %s: %w", device, err)
	}
	return regions, nil
}

// Devices returns every device with at least one region, sorted.
func (s *Store) Devices() ([]string, error) {
	devices := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			dev, _, err := ParseKey(it.Item().Key())
			if err != nil {
				continue
			}
			if n := len(devices); n == 0 || devices[n-1] != dev {
				devices = append(devices, dev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// Clear removes all regions of device and returns how many were removed.
func (s *Store) Clear(device string) (int, error) {
	prefix := MakeKeyPrefix(device)
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clearing regions for %s: %w", device, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("clearing regions for %s: %w", device, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("clearing regions for %s: %w", device, err)
	}

	logger.Info("regions cleared", "device", device, "removed", len(keys))
	return len(keys), nil
}
