package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	xxhash "github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v3"
)

// ResultVersion is bumped whenever the estimators change in a way that
// invalidates stored results
const ResultVersion = 1

const resultPrefix = "result/"

// ErrNotFound is returned when no result is stored under an ID
var ErrNotFound = errors.New("result not found")

// StoredResult is a persisted analysis with its metadata
type StoredResult struct {
	ContentKey string  `json:"contentKey"`
	Result     *Result `json:"result"`
	Version    int     `json:"version"`
	AnalyzedAt int64   `json:"analyzedAt"`
	Filename   string  `json:"filename"`
}

// ContentKey identifies an analysis by its input: the audio bytes, the
// filename (which feeds the filename heuristic) and the low-pass flag.
func ContentKey(data []byte, filename string, applyLowPass bool) string {
	h := xxhash.New64()
	h.Write(data)
	h.Write([]byte{0})
	h.WriteString(filename)
	h.Write([]byte{0, boolByte(applyLowPass)})
	return fmt.Sprintf("%016x", h.Sum64())
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ResultStore persists analysis results in badger
type ResultStore struct {
	db *badger.DB
}

// OpenResultStore opens the store in dir. An empty dir gives an in-memory store.
func OpenResultStore(dir string) (*ResultStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// Close flushes and closes the store
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// Put stores result under id, stamping the current version and time
func (s *ResultStore) Put(id, filename string, result *Result) (*StoredResult, error) {
	stored := &StoredResult{
		ContentKey: id,
		Result:     result,
		Version:    ResultVersion,
		AnalyzedAt: time.Now().Unix(),
		Filename:   filename,
	}
	value, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(resultPrefix+id), value)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store result %s: %w", id, err)
	}
	return stored, nil
}

// Get returns the result stored under id
func (s *ResultStore) Get(id string) (*StoredResult, error) {
	var stored StoredResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	return &stored, nil
}

// Has reports whether a result of at least minVersion is stored under id
func (s *ResultStore) Has(id string, minVersion int) bool {
	stored, err := s.Get(id)
	return err == nil && stored.Version >= minVersion
}

// Delete removes the result stored under id
func (s *ResultStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(resultPrefix + id))
	})
}

// All returns every stored result. Entries that fail to decode are skipped.
func (s *ResultStore) All() ([]*StoredResult, error) {
	var out []*StoredResult
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(resultPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var stored StoredResult
				if err := json.Unmarshal(val, &stored); err != nil {
					return err
				}
				out = append(out, &stored)
				return nil
			})
			if err != nil {
				log.Printf("[STORE] Skipping unreadable entry %s: %v", item.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return out, nil
}

// Count returns the number of stored results
func (s *ResultStore) Count() (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(resultPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// Stats describes the store for the status command
type Stats struct {
	Results  int   `json:"results"`
	LSMBytes int64 `json:"lsmBytes"`
	LogBytes int64 `json:"vlogBytes"`
	Version  int   `json:"version"`
}

// Stats returns the result count and on-disk sizes
func (s *ResultStore) Stats() Stats {
	n, err := s.Count()
	if err != nil {
		log.Printf("[STORE] %v", err)
	}
	lsm, vlog := s.db.Size()
	return Stats{
		Results:  n,
		LSMBytes: lsm,
		LogBytes: vlog,
		Version:  ResultVersion,
	}
}
