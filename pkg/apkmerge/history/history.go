// Package history records merge reports in a Badger database so past
// sessions can be listed and inspected.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

var (
	// ErrNotFound is returned when no report matches an ID.
	ErrNotFound = errors.New("history entry not found")

	// ErrAmbiguous is returned when an ID prefix matches several reports.
	ErrAmbiguous = errors.New("history id prefix is ambiguous")
)

// KeySeparator separates key segments.
const KeySeparator byte = 0x00

var (
	reportPrefix = []byte("report" + string(KeySeparator))
	idPrefix     = []byte("id" + string(KeySeparator))
)

// Store wraps Badger for merge history.
type Store struct {
	db *badger.DB
}

// Open opens or creates a history store in dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("history path cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger logs to stderr otherwise

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// reportKey orders reports by start time: report\x00<unix nanos>\x00<id>.
func reportKey(r *types.MergeReport) []byte {
	key := make([]byte, 0, len(reportPrefix)+20+1+len(r.ID))
	key = append(key, reportPrefix...)
	key = fmt.Appendf(key, "%020d", r.Started.UnixNano())
	key = append(key, KeySeparator)
	return append(key, r.ID...)
}

func idKey(id string) []byte {
	return append(append([]byte(nil), idPrefix...), id...)
}

// Put stores a report. A report with the same ID replaces the old one.
func (s *Store) Put(r *types.MergeReport) error {
	if r.ID == "" {
		return errors.New("report has no id")
	}

	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report %s: %w", r.ID, err)
	}
	key := reportKey(r)

	return s.db.Update(func(txn *badger.Txn) error {
		if old, err := txn.Get(idKey(r.ID)); err == nil {
			oldKey, err := old.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(oldKey); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(idKey(r.ID), key)
	})
}

// Get returns the report whose ID equals id or, failing that, the single
// report whose ID starts with id.
func (s *Store) Get(id string) (*types.MergeReport, error) {
	if id == "" {
		return nil, errors.New("history id cannot be empty")
	}

	var report types.MergeReport
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := resolveID(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &report)
		})
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// resolveID maps an ID or unique ID prefix to its report key.
func resolveID(txn *badger.Txn, id string) ([]byte, error) {
	if item, err := txn.Get(idKey(id)); err == nil {
		return item.ValueCopy(nil)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}

	prefix := idKey(id)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: false})
	defer it.Close()

	var key []byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if key != nil {
			return nil, fmt.Errorf("%s: %w", id, ErrAmbiguous)
		}
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		key = v
	}
	if key == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return key, nil
}

// List returns reports newest first. A limit of zero or less returns all.
func (s *Store) List(limit int) ([]types.MergeReport, error) {
	reports := []types.MergeReport{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = reportPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), reportPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(reportPrefix); it.Next() {
			var r types.MergeReport
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				// Skip entries that can't be decoded.
				continue
			}
			reports = append(reports, r)
			if limit > 0 && len(reports) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// Cleanup removes reports that started more than retentionDays ago and
// returns how many were removed. retentionDays <= 0 removes everything.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	var cutoff []byte
	if retentionDays > 0 {
		t := time.Now().AddDate(0, 0, -retentionDays)
		cutoff = reportKey(&types.MergeReport{Started: t})
	}

	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = reportPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var doomed [][]byte
		for it.Seek(reportPrefix); it.ValidForPrefix(reportPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if cutoff != nil && bytes.Compare(key, cutoff) >= 0 {
				break
			}
			doomed = append(doomed, key)
		}

		for _, key := range doomed {
			id := key[bytes.LastIndexByte(key, KeySeparator)+1:]
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(idKey(string(id))); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
