package saved

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alicorn-scan/alicorn/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(NewMemoryBackend(), nil)
	// Deterministic clock stepping one second per call.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	store.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	return store
}

func TestStoreSaveAndList(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save([]int64{3, 7}, Fields{
		Name:   "baseline vs rescan",
		Notes:  "weekly diff",
		Target: "10.0.0.0/24",
		Mode:   "tcpsyn",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "baseline vs rescan", record.Name)
	assert.Equal(t, []int64{3, 7}, record.ScanIDs)
	assert.Equal(t, "10.0.0.0/24", record.Target)
	assert.Equal(t, "tcpsyn", record.Mode)
	assert.Equal(t, record.CreatedAt, record.UpdatedAt)

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
}

func TestStoreSaveUpsertsBySameScanIDSet(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Save([]int64{1, 2, 3}, Fields{Name: "first", Target: "10.0.0.0/24"})
	require.NoError(t, err)

	// Different order and a duplicate id still name the same set.
	second, err := store.Save([]int64{3, 1, 2, 2}, Fields{
		Name:  "renamed",
		Notes: "now with notes",
		Mode:  "tcpsyn",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "renamed", second.Name)
	assert.Equal(t, "now with notes", second.Notes)
	assert.Equal(t, "tcpsyn", second.Mode)
	assert.Empty(t, second.Target)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(second.CreatedAt))

	records, err := store.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStoreSaveDistinctSetsCreateRecords(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save([]int64{1, 2}, Fields{Name: "a"})
	require.NoError(t, err)
	_, err = store.Save([]int64{1, 2, 3}, Fields{Name: "b"})
	require.NoError(t, err)

	records, err := store.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStoreSaveValidation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save([]int64{1, 2}, Fields{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.GetCode(err))

	_, err = store.Save([]int64{1}, Fields{Name: "too few"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.GetCode(err))
}

func TestStoreListSortsByUpdatedAt(t *testing.T) {
	store := newTestStore(t)

	older, err := store.Save([]int64{1, 2}, Fields{Name: "older"})
	require.NoError(t, err)
	newer, err := store.Save([]int64{3, 4}, Fields{Name: "newer"})
	require.NoError(t, err)

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.ID, records[0].ID)
	assert.Equal(t, older.ID, records[1].ID)
}

func TestStoreGet(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save([]int64{5, 6}, Fields{Name: "keep"})
	require.NoError(t, err)

	got, err := store.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Name)

	_, err = store.Get("nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStoreUpdate(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save([]int64{1, 2}, Fields{Name: "old name"})
	require.NoError(t, err)

	updated, err := store.Update(record.ID, Fields{
		Name:   "new name",
		Notes:  "annotated",
		Target: "192.168.0.0/16",
		Mode:   "udpscan",
	})
	require.NoError(t, err)
	assert.Equal(t, "new name", updated.Name)
	assert.Equal(t, "annotated", updated.Notes)
	assert.Equal(t, "192.168.0.0/16", updated.Target)
	assert.Equal(t, "udpscan", updated.Mode)
	assert.Equal(t, record.ScanIDs, updated.ScanIDs)

	_, err = store.Update("missing-id", Fields{Name: "name"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save([]int64{1, 2}, Fields{Name: "doomed"})
	require.NoError(t, err)

	require.NoError(t, store.Remove(record.ID))

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	err = store.Remove(record.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStoreFindByScanIDs(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save([]int64{10, 20}, Fields{Name: "findable"})
	require.NoError(t, err)

	found, err := store.FindByScanIDs([]int64{20, 10})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, record.ID, found.ID)

	// No match is a normal outcome, not an error.
	found, err = store.FindByScanIDs([]int64{10, 30})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStoreCorruptDataDegradesToEmpty(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save([]byte("{not json")))

	store := NewStore(backend, nil)
	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	// The store stays writable afterwards.
	_, err = store.Save([]int64{1, 2}, Fields{Name: "fresh"})
	require.NoError(t, err)
}

type failingBackend struct{ loadErr error }

func (b *failingBackend) Load() ([]byte, error) { return nil, b.loadErr }
func (b *failingBackend) Save([]byte) error     { return nil }

func TestStoreUnreadableBackendDegradesToEmpty(t *testing.T) {
	store := NewStore(&failingBackend{loadErr: errors.New("disk on fire")}, nil)

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saved.json")
	backend := NewFileBackend(path)

	// Missing file reads as empty, not as an error.
	data, err := backend.Load()
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, backend.Save([]byte(`[{"id":"x"}]`)))

	data, err = backend.Load()
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"x"}]`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(storeFilePerm), info.Mode().Perm())
}

func TestFileBackendStoreIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")

	store := NewStore(NewFileBackend(path), nil)
	record, err := store.Save([]int64{1, 2}, Fields{Name: "persisted", Target: "172.16.0.0/12"})
	require.NoError(t, err)

	// A second store over the same file sees the record.
	reopened := NewStore(NewFileBackend(path), nil)
	records, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
	assert.Equal(t, "172.16.0.0/12", records[0].Target)
}

func TestScanIDSetKey(t *testing.T) {
	tests := []struct {
		name string
		a    []int64
		b    []int64
		same bool
	}{
		{name: "order insensitive", a: []int64{1, 2, 3}, b: []int64{3, 2, 1}, same: true},
		{name: "duplicates collapse", a: []int64{1, 2, 2}, b: []int64{1, 2}, same: true},
		{name: "different sets", a: []int64{1, 2}, b: []int64{1, 3}, same: false},
		{name: "no digit gluing", a: []int64{1, 23}, b: []int64{12, 3}, same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, scanIDSet(tt.a) == scanIDSet(tt.b))
		})
	}
}
