package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// ErrStoreCorrupt indicates the persisted record document could not be parsed.
// Callers decide whether to treat the store as empty or to propagate.
var ErrStoreCorrupt = errors.New("managed certificate store is corrupt")

// ErrRecordNotFound indicates no record with the requested id exists.
var ErrRecordNotFound = errors.New("managed certificate not found")

// storeLocks holds one mutex per store path so that read-modify-write
// sequences from different Store values over the same document never
// interleave. The lock is scoped to the store's identity, not the Store value.
var storeLocks sync.Map // map[string]*sync.Mutex

func lockForPath(path string) *sync.Mutex {
	mu, _ := storeLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store persists the set of managed certificate records as one serialized
// JSON document. Every write replaces the whole document; every List reloads
// from disk, so a write by one caller is visible to the next List by another.
type Store struct {
	path string
	mu   *sync.Mutex
}

// NewStore creates a store over the document at the given path. The file does
// not have to exist yet; an absent document is an empty store.
func NewStore(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeStore, "resolve store path",
			"Failed to resolve absolute path for record store").WithResource(path)
	}
	return &Store{path: abs, mu: lockForPath(abs)}, nil
}

// Path returns the absolute path of the backing document.
func (s *Store) Path() string {
	return s.path
}

// load reads the whole document. Caller must hold s.mu.
func (s *Store) load() ([]common.ManagedCertificate, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, common.WrapError(err, common.ErrorTypeStore, "read store",
			"Failed to read record store document").WithResource(s.path)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var records []common.ManagedCertificate
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, common.WrapError(fmt.Errorf("%w: %v", ErrStoreCorrupt, err),
			common.ErrorTypeStore, "parse store",
			"Record store document is not valid JSON").WithResource(s.path).
			AddSuggestion("Restore the document from a backup or remove it to start empty")
	}

	// Dirty flags never survive a load.
	for i := range records {
		records[i].IsChanged = false
	}

	return records, nil
}

// save replaces the whole document. Caller must hold s.mu. The document is
// marshalled first and written to a temporary sibling that is renamed into
// place, so neither a marshal failure nor an interrupted write destroys
// previously good data.
func (s *Store) save(records []common.ManagedCertificate) error {
	if records == nil {
		records = []common.ManagedCertificate{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return common.WrapError(err, common.ErrorTypeStore, "marshal store",
			"Failed to serialize managed certificate records").WithResource(s.path)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), DirPermissions); err != nil {
		return common.WrapError(err, common.ErrorTypeStore, "create store directory",
			"Failed to create data directory").WithResource(filepath.Dir(s.path))
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, PrivateKeyPermissions); err != nil {
		return common.WrapError(err, common.ErrorTypeStore, "write store",
			"Failed to write record store document").WithResource(tmpPath)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return common.WrapError(err, common.ErrorTypeStore, "write store",
			"Failed to replace record store document").WithResource(s.path)
	}

	return nil
}

// List reloads the document from durable storage and returns all records.
func (s *Store) List() ([]common.ManagedCertificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (*common.ManagedCertificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// Upsert replaces any existing record with the same id and appends the given
// record (replace-by-id, not merge), then persists the whole document.
func (s *Store) Upsert(record common.ManagedCertificate) error {
	if record.ID == "" {
		return common.NewStoreError("upsert record", "Record has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, r := range records {
		if r.ID != record.ID {
			kept = append(kept, r)
		}
	}
	kept = append(kept, record)

	return s.save(kept)
}

// Delete removes the record with the given id. Deleting an absent record is
// not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}

	return s.save(kept)
}

// SaveAll replaces the entire record set in one write.
func (s *Store) SaveAll(records []common.ManagedCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(records)
}

// FindByName returns all records whose display name matches exactly.
func (s *Store) FindByName(name string) ([]common.ManagedCertificate, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	var matches []common.ManagedCertificate
	for _, r := range records {
		if r.Name == name {
			matches = append(matches, r)
		}
	}
	return matches, nil
}
