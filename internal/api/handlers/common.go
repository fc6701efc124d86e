// Package handlers provides the HTTP request handlers for the alicorn
// API. This file holds the shared plumbing: response encoding, error
// mapping, pagination, and request decoding with validation.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/alicorn-scan/alicorn/internal/api/middleware"
	"github.com/alicorn-scan/alicorn/internal/errors"
	"github.com/alicorn-scan/alicorn/internal/logging"
)

// Pagination limits.
const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyBytes    = 1 << 20
)

// validate is the shared request validator.
var validate = validator.New()

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// PaginationParams holds the decoded page window.
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"-"`
}

// PaginatedResponse wraps list payloads with paging metadata.
type PaginatedResponse struct {
	Data       any `json:"data"`
	Pagination struct {
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		TotalItems int64 `json:"total_items"`
		TotalPages int   `json:"total_pages"`
	} `json:"pagination"`
}

// newPaginatedResponse assembles the standard list envelope.
func newPaginatedResponse(data any, params PaginationParams, total int64) *PaginatedResponse {
	resp := &PaginatedResponse{Data: data}
	resp.Pagination.Page = params.Page
	resp.Pagination.PageSize = params.PageSize
	resp.Pagination.TotalItems = total
	resp.Pagination.TotalPages = int((total + int64(params.PageSize) - 1) / int64(params.PageSize))
	return resp
}

// writeJSON encodes a response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logging.Error("failed to encode response", "error", err)
		}
	}
}

// writeError maps an error to an HTTP status and writes the standard
// error payload.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      string(errors.GetCode(err)),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// statusForError maps internal error codes to HTTP statuses.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeCanceled:
		return http.StatusRequestTimeout
	case errors.CodeTimeout, errors.CodeDatabaseTimeout, errors.CodeServiceTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeDatabaseConnection, errors.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads and validates a request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.ErrValidation("invalid request body: " + err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return errors.ErrValidation("invalid request: " + err.Error())
	}
	return nil
}

// scanIDFromPath extracts the {id} path variable as a scan id.
func scanIDFromPath(r *http.Request) (int64, error) {
	raw, ok := mux.Vars(r)["id"]
	if !ok {
		return 0, errors.ErrValidation("scan id not provided")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.ErrValidation("invalid scan id: " + raw)
	}
	return id, nil
}

// stringIDFromPath extracts the {id} path variable as-is.
func stringIDFromPath(r *http.Request) (string, error) {
	raw, ok := mux.Vars(r)["id"]
	if !ok || raw == "" {
		return "", errors.ErrValidation("id not provided")
	}
	return raw, nil
}

// paginationFromRequest decodes page and page_size query parameters with
// bounds enforcement.
func paginationFromRequest(r *http.Request) (PaginationParams, error) {
	params := PaginationParams{Page: 1, PageSize: defaultPageSize}

	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return params, errors.ErrValidation("invalid page: " + raw)
		}
		params.Page = page
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return params, errors.ErrValidation("invalid page_size: " + raw)
		}
		if size > maxPageSize {
			size = maxPageSize
		}
		params.PageSize = size
	}
	params.Offset = (params.Page - 1) * params.PageSize
	return params, nil
}
