package activity

import (
	"encoding/json"
	"errors"
	"fittrack/apperr"
	"fittrack/herr"
	"fittrack/session"
	"fittrack/store"
	"fittrack/upload"
	"mime"
	"net/http"
)

const (
	maxJSONBody  = 4 << 20
	formOverhead = 1 << 20
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createRequest struct {
	Type     string `json:"type"`
	Date     string `json:"date"`
	Duration Number `json:"duration"`
	Distance Number `json:"distance"`
	Photo    string `json:"photo"`
	PhotoKey string `json:"photoKey"`
}

func writeJSON(w http.ResponseWriter, code int, v any) *herr.Error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return herr.Internal(err, "Error encoding response")
	}
	return nil
}

func caller(r *http.Request) (*store.User, *herr.Error) {
	result, ok := session.FromContext(r.Context())
	if !ok {
		return nil, herr.Unauthorized(errors.New("no session data on context"), "Activity request without session")
	}
	return result.User, nil
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) *herr.Error {
	user, e := caller(r)
	if e != nil {
		return e
	}
	activities, err := h.svc.List(r.Context(), user.ID)
	if err != nil {
		return herr.From(err, "Error listing activities")
	}
	return writeJSON(w, http.StatusOK, activities)
}

// HandleListByUser serves GET /api/activities/user/{id}. Only the caller's own id is allowed.
func (h *Handler) HandleListByUser(w http.ResponseWriter, r *http.Request) *herr.Error {
	user, e := caller(r)
	if e != nil {
		return e
	}
	if id := r.PathValue("id"); id != user.ID {
		return herr.Forbidden(errors.New("foreign owner"), "Listing activities of another user")
	}
	return h.HandleList(w, r)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) *herr.Error {
	user, e := caller(r)
	if e != nil {
		return e
	}
	activity, err := h.svc.Get(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		return herr.From(err, "Error getting activity")
	}
	return writeJSON(w, http.StatusOK, activity)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) *herr.Error {
	user, e := caller(r)
	if e != nil {
		return e
	}
	id := r.PathValue("id")
	if err := h.svc.Delete(r.Context(), user.ID, id); err != nil {
		return herr.From(err, "Error deleting activity")
	}
	return writeJSON(w, http.StatusOK, struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}{ID: id, Message: "Activity deleted"})
}

// HandleCreate accepts either a JSON body or a multipart form with an optional photo file.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) *herr.Error {
	user, e := caller(r)
	if e != nil {
		return e
	}

	form := h.svc.NewForm()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if mediaType == "multipart/form-data" {
		err = h.fillMultipart(w, r, form)
	} else {
		err = fillJSON(w, r, form)
	}
	if err != nil {
		return herr.From(err, "Error reading activity")
	}

	activity, err := form.Submit(r.Context(), user.ID)
	if err != nil {
		return herr.From(err, "Error creating activity")
	}
	return writeJSON(w, http.StatusCreated, activity)
}

func fillJSON(w http.ResponseWriter, r *http.Request, form *Form) error {
	var req createRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperr.Invalid("", "Invalid request body")
	}
	form.Type = req.Type
	form.Date = req.Date
	form.Duration = string(req.Duration)
	form.Distance = string(req.Distance)
	form.PhotoKey = req.PhotoKey
	if req.Photo != "" {
		return form.AttachDataURI(req.Photo)
	}
	return nil
}

func (h *Handler) fillMultipart(w http.ResponseWriter, r *http.Request, form *Form) error {
	max := h.svc.uploads.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, max+formOverhead)
	if err := r.ParseMultipartForm(max + formOverhead); err != nil {
		return apperr.Invalid("", "Invalid form data")
	}
	form.Type = r.FormValue("type")
	form.Date = r.FormValue("date")
	form.Duration = r.FormValue("duration")
	form.Distance = r.FormValue("distance")
	form.PhotoKey = r.FormValue("photoKey")

	_, fh, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return apperr.Invalid("photo", "Invalid photo upload")
	}
	photo, err := upload.ReadFile(fh, max)
	if err != nil {
		return err
	}
	return form.Attach(photo)
}
