package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// StatusMessage is the call-lifecycle response body: the HTTP status repeated
// in the payload plus a human-readable line. Dialplan consumers read the body
// without access to the response status.
type StatusMessage struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// WriteStatusMessage writes a StatusMessage with the given status code.
func WriteStatusMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, StatusMessage{Status: status, Message: msg})
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination extracts limit and offset from query params with defaults.
// Returns an error if values are present but invalid.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Limit: 50, Offset: 0}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid limit %q: must be an integer", v)
		}
		if n < 1 {
			return p, fmt.Errorf("invalid limit %d: must be >= 1", n)
		}
		p.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid offset %q: must be an integer", v)
		}
		if n < 0 {
			return p, fmt.Errorf("invalid offset %d: must be >= 0", n)
		}
		p.Offset = n
	}
	return p, nil
}

// QueryString extracts a non-empty string query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// QueryBool extracts a boolean query parameter.
func QueryBool(r *http.Request, name string) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// RequireQuery extracts a query parameter, writing a 400 and returning false
// when it is missing.
func RequireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("missing query parameter: %s", name))
		return "", false
	}
	return v, true
}

// PathUUID extracts a UUID from a chi URL parameter.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	v := chi.URLParam(r, name)
	if v == "" {
		return uuid.Nil, fmt.Errorf("missing path parameter: %s", name)
	}
	return uuid.Parse(v)
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
