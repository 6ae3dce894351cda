package upload

import (
	"encoding/json"
	"errors"
	"fittrack/apperr"
	"fittrack/herr"
	"fittrack/session"
	"net/http"
)

const formOverhead = 1 << 20

type Handler struct {
	adapter *Adapter
}

func NewHandler(adapter *Adapter) *Handler {
	return &Handler{adapter: adapter}
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) *herr.Error {
	result, ok := session.FromContext(r.Context())
	if !ok {
		return herr.Unauthorized(errors.New("no session data on context"), "Upload without session")
	}
	if h.adapter.Strategy() != Object {
		return herr.NotFound(errors.New("object uploads disabled"), "Standalone upload with inline strategy")
	}

	max := h.adapter.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, max+formOverhead)
	if err := r.ParseMultipartForm(max + formOverhead); err != nil {
		return herr.BadRequest(err, "Error parsing multipart form")
	}
	_, fh, err := r.FormFile("file")
	if err != nil {
		return herr.BadRequest(err, "Error retrieving file")
	}
	file, err := ReadFile(fh, max)
	if err != nil {
		return herr.From(err, "Error reading file")
	}

	photo, err := h.adapter.Store(r.Context(), result.User.ID, file)
	if err != nil {
		return herr.From(err, "Error storing file")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(photo); err != nil {
		return herr.Internal(err, "Error encoding response")
	}
	return nil
}

// HandleURL re-signs a key belonging to the caller.
func (h *Handler) HandleURL(w http.ResponseWriter, r *http.Request) *herr.Error {
	result, ok := session.FromContext(r.Context())
	if !ok {
		return herr.Unauthorized(errors.New("no session data on context"), "URL request without session")
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		return herr.From(apperr.Invalid("key", "Missing file key"), "URL request without key")
	}
	if !Owns(result.User.ID, key) {
		return herr.NotFound(errors.New("foreign key"), "URL request for key not owned by caller")
	}

	url, err := h.adapter.URL(r.Context(), key)
	if err != nil {
		return herr.From(err, "Error signing url")
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Photo{Key: key, URL: url}); err != nil {
		return herr.Internal(err, "Error encoding response")
	}
	return nil
}
