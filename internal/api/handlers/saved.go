package handlers

import (
	"net/http"

	"github.com/alicorn-scan/alicorn/internal/logging"
	"github.com/alicorn-scan/alicorn/internal/saved"
)

// ComparisonStore is the persistence surface for saved comparisons.
// saved.Store implements it.
type ComparisonStore interface {
	List() ([]*saved.SavedComparison, error)
	Get(id string) (*saved.SavedComparison, error)
	Save(scanIDs []int64, fields saved.Fields) (*saved.SavedComparison, error)
	Update(id string, fields saved.Fields) (*saved.SavedComparison, error)
	Remove(id string) error
}

// SavedRequest is the body for creating a saved comparison.
type SavedRequest struct {
	Name    string  `json:"name" validate:"required,max=200"`
	ScanIDs []int64 `json:"scan_ids" validate:"required,min=2,dive,min=1"`
	Notes   string  `json:"notes" validate:"max=2000"`
	Target  string  `json:"target" validate:"max=500"`
	Mode    string  `json:"mode" validate:"max=200"`
}

// SavedUpdateRequest is the body for renaming or annotating a record.
type SavedUpdateRequest struct {
	Name   string `json:"name" validate:"required,max=200"`
	Notes  string `json:"notes" validate:"max=2000"`
	Target string `json:"target" validate:"max=500"`
	Mode   string `json:"mode" validate:"max=200"`
}

// SavedHandler serves saved comparison CRUD.
type SavedHandler struct {
	store  ComparisonStore
	logger *logging.Logger
}

// NewSavedHandler creates a saved comparison handler.
func NewSavedHandler(store ComparisonStore, logger *logging.Logger) *SavedHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SavedHandler{
		store:  store,
		logger: logger.WithComponent("api.saved"),
	}
}

// List serves GET /comparisons.
func (h *SavedHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*saved.SavedComparison{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Get serves GET /comparisons/{id}.
func (h *SavedHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := stringIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.store.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Create serves POST /comparisons. Saving an already-saved scan id set
// updates that record in place, so the handler reports 200 rather than
// 201 when the record predates the request.
func (h *SavedHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SavedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.store.Save(req.ScanIDs, saved.Fields{
		Name:   req.Name,
		Notes:  req.Notes,
		Target: req.Target,
		Mode:   req.Mode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !record.CreatedAt.Equal(record.UpdatedAt) {
		status = http.StatusOK
	}
	writeJSON(w, status, record)
}

// Update serves PUT /comparisons/{id}.
func (h *SavedHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := stringIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req SavedUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.store.Update(id, saved.Fields{
		Name:   req.Name,
		Notes:  req.Notes,
		Target: req.Target,
		Mode:   req.Mode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Delete serves DELETE /comparisons/{id}.
func (h *SavedHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := stringIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.Remove(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
