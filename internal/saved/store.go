// Package saved persists named scan comparisons so a set of scan ids can
// be re-run from the dashboard later. Records live behind a small byte
// oriented Backend port, with file and in-memory implementations.
package saved

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alicorn-scan/alicorn/internal/errors"
	"github.com/alicorn-scan/alicorn/internal/logging"
)

// SavedComparison is one named comparison record.
type SavedComparison struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ScanIDs   []int64   `json:"scan_ids"`
	Notes     string    `json:"notes,omitempty"`
	Target    string    `json:"target,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields carries the caller-editable attributes of a record. Name is
// required; the rest are optional annotations.
type Fields struct {
	Name   string
	Notes  string
	Target string
	Mode   string
}

// Backend is the persistence port for the store. Load returns whatever
// was last saved, or nil when nothing has been saved yet.
type Backend interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Store manages saved comparisons on top of a Backend. All operations
// are safe for concurrent use.
type Store struct {
	backend Backend
	logger  *logging.Logger
	mu      sync.Mutex

	// Overridable for tests.
	now   func() time.Time
	newID func() string
}

// NewStore creates a store over the given backend.
func NewStore(backend Backend, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger.WithComponent("saved"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// List returns every saved comparison, newest update first.
func (s *Store) List() ([]*SavedComparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// Get returns the saved comparison with the given id.
func (s *Store) Get(id string) (*SavedComparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, errors.ErrNotFoundWithID("saved comparison", id)
}

// Save stores a comparison. When a record with the same scan id set
// already exists, regardless of id order or duplicates, that record is
// updated in place and keeps its id and creation time. Otherwise a new
// record is created.
func (s *Store) Save(scanIDs []int64, fields Fields) (*SavedComparison, error) {
	if fields.Name == "" {
		return nil, errors.ErrValidation("comparison name is required")
	}
	if len(scanIDs) < 2 {
		return nil, errors.ErrValidation("a comparison needs at least two scan ids")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	key := scanIDSet(scanIDs)
	for _, record := range records {
		if scanIDSet(record.ScanIDs) == key {
			record.applyFields(fields)
			record.ScanIDs = scanIDs
			record.UpdatedAt = now
			if err := s.persist(records); err != nil {
				return nil, err
			}
			s.logger.Info("saved comparison updated", "id", record.ID, "name", fields.Name)
			return record, nil
		}
	}

	record := &SavedComparison{
		ID:        s.newID(),
		ScanIDs:   scanIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.applyFields(fields)
	records = append(records, record)
	if err := s.persist(records); err != nil {
		return nil, err
	}
	s.logger.Info("saved comparison created", "id", record.ID, "name", fields.Name)
	return record, nil
}

func (r *SavedComparison) applyFields(fields Fields) {
	r.Name = fields.Name
	r.Notes = fields.Notes
	r.Target = fields.Target
	r.Mode = fields.Mode
}

// Update renames or annotates an existing record. The scan id set is
// immutable; saving a different set is a new record.
func (s *Store) Update(id string, fields Fields) (*SavedComparison, error) {
	if fields.Name == "" {
		return nil, errors.ErrValidation("comparison name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.ID != id {
			continue
		}
		record.applyFields(fields)
		record.UpdatedAt = s.now().UTC()
		if err := s.persist(records); err != nil {
			return nil, err
		}
		return record, nil
	}
	return nil, errors.ErrNotFoundWithID("saved comparison", id)
}

// Remove deletes the record with the given id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for i, record := range records {
		if record.ID != id {
			continue
		}
		records = append(records[:i], records[i+1:]...)
		if err := s.persist(records); err != nil {
			return err
		}
		s.logger.Info("saved comparison removed", "id", id)
		return nil
	}
	return errors.ErrNotFoundWithID("saved comparison", id)
}

// FindByScanIDs returns the record whose scan id set matches the given
// ids. No match is a normal outcome and returns nil, nil.
func (s *Store) FindByScanIDs(scanIDs []int64) (*SavedComparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	key := scanIDSet(scanIDs)
	for _, record := range records {
		if scanIDSet(record.ScanIDs) == key {
			return record, nil
		}
	}
	return nil, nil
}

// load reads and decodes the backend contents. Unreadable or corrupt
// data degrades to an empty list so one bad write cannot brick the
// saved comparison feature.
func (s *Store) load() ([]*SavedComparison, error) {
	data, err := s.backend.Load()
	if err != nil {
		s.logger.Warn("saved comparison backend unreadable, starting empty", "error", err)
		return []*SavedComparison{}, nil
	}
	if len(data) == 0 {
		return []*SavedComparison{}, nil
	}

	var records []*SavedComparison
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("saved comparison data corrupt, starting empty", "error", err)
		return []*SavedComparison{}, nil
	}
	return records, nil
}

func (s *Store) persist(records []*SavedComparison) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(errors.CodeStoreIO, "failed to encode saved comparisons", err)
	}
	if err := s.backend.Save(data); err != nil {
		return errors.Wrap(errors.CodeStoreIO, "failed to persist saved comparisons", err)
	}
	return nil
}

// scanIDSet renders a scan id list as an order-insensitive, deduplicated
// comparison key.
func scanIDSet(scanIDs []int64) string {
	distinct := make([]int64, 0, len(scanIDs))
	seen := make(map[int64]bool, len(scanIDs))
	for _, id := range scanIDs {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })

	parts := make([]string, len(distinct))
	for i, id := range distinct {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
