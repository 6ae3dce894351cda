package auth

import (
	"encoding/json"
	"fittrack/herr"
	"fittrack/session"
	"fittrack/store"
	"log/slog"
	"net/http"
)

const maxCredentialsBody = 1 << 16

type Handler struct {
	provider Provider
	sessions *session.Manager
}

func NewHandler(provider Provider, sessions *session.Manager) *Handler {
	return &Handler{provider: provider, sessions: sessions}
}

type authResponse struct {
	User *store.User `json:"user"`
	*session.TokenPair
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (Credentials, *herr.Error) {
	var creds Credentials
	r.Body = http.MaxBytesReader(w, r.Body, maxCredentialsBody)
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		return creds, herr.BadRequest(err, "Error decoding credentials")
	}
	return creds, nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, user *store.User, pair *session.TokenPair) *herr.Error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(authResponse{User: user, TokenPair: pair}); err != nil {
		slog.Error("error encoding response", "error", err)
	}
	return nil
}

// HandleSignup registers the user and logs them straight in.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) *herr.Error {
	creds, e := decodeCredentials(w, r)
	if e != nil {
		return e
	}

	user, err := h.provider.SignUp(r.Context(), creds)
	if err != nil {
		return herr.From(err, "Error signing up")
	}

	pair, err := h.sessions.CreateSession(w, user)
	if err != nil {
		return herr.Internal(err, "Error creating session after signup")
	}

	slog.Info("User signed up", "user_id", user.ID)
	return h.respond(w, http.StatusCreated, user, pair)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) *herr.Error {
	creds, e := decodeCredentials(w, r)
	if e != nil {
		return e
	}

	user, err := h.provider.Authenticate(r.Context(), creds.Email, creds.Password)
	if err != nil {
		return herr.From(err, "Error logging in")
	}

	pair, err := h.sessions.CreateSession(w, user)
	if err != nil {
		return herr.Internal(err, "Error creating session")
	}

	slog.Info("User logged in", "user_id", user.ID)
	return h.respond(w, http.StatusOK, user, pair)
}
