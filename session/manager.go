package session

import (
	"context"
	"encoding/json"
	"errors"
	"fittrack/cryptoutil"
	"fittrack/herr"
	"fittrack/store"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const (
	SessionContextKey contextKey = "session"
	AccessCookieName             = "auth_token"
	IDCookieName                 = "id_token"
	oneDayInHours                = 24
)

type Manager struct {
	store                   store.Store
	sessionExpirationInDays int64
	refreshThresholdInDays  int64
	isProd                  bool
	secret                  []byte
	tokenTTL                time.Duration
}

type Config struct {
	ExpirationInDays       int64
	RefreshThresholdInDays int64
	IsProd                 bool
	Secret                 []byte
	TokenTTL               time.Duration
}

func NewManager(store store.Store, cfg Config) *Manager {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Manager{
		store:                   store,
		sessionExpirationInDays: cfg.ExpirationInDays,
		refreshThresholdInDays:  cfg.RefreshThresholdInDays,
		isProd:                  cfg.IsProd,
		secret:                  cfg.Secret,
		tokenTTL:                cfg.TokenTTL,
	}
}

// CreateSession replaces any session the user had, then hands out a fresh token
// pair both in the return value and as cookies.
func (m *Manager) CreateSession(w http.ResponseWriter, user *store.User) (*TokenPair, error) {
	token, err := cryptoutil.Random()
	if err != nil {
		return nil, err
	}
	err = m.InvalidateUserSessions(user.ID)
	if err != nil {
		slog.Warn("Error deleting old sessions", "err", err)
	}

	sessionID := cryptoutil.ID(token)
	if _, err := m.store.CreateSession(sessionID, user.ID, m.newExpiresAt()); err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	pair, err := m.issueTokens(token, user)
	if err != nil {
		return nil, err
	}
	m.SetSessionCookies(w, pair)
	return pair, nil
}

type SessionValidationResult struct {
	Session *store.Session `json:"session"`
	User    *store.User    `json:"user"`
}

func (m *Manager) newExpiresAt() int64 {
	return time.Now().Add(time.Duration(m.sessionExpirationInDays) * oneDayInHours * time.Hour).Unix()
}

// ValidateSessionToken returns a nil result without error when the session expired.
func (m *Manager) ValidateSessionToken(token string) (*SessionValidationResult, error) {
	if token == "" {
		return nil, fmt.Errorf("empty session token")
	}

	sessionID := cryptoutil.ID(token)
	session, user, err := m.store.SessionAndUserBySessionID(sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := time.Unix(session.ExpiresAt, 0)

	if now.After(expiresAt) {
		if err := m.store.DeleteSessionBySessionID(session.ID); err != nil {
			return nil, fmt.Errorf("error deleting expired session: %w", err)
		}
		return nil, nil
	}

	thresholdDuration := time.Duration(m.refreshThresholdInDays) * oneDayInHours * time.Hour
	thresholdTime := expiresAt.Add(-thresholdDuration)

	if now.After(thresholdTime) {
		newExpiresAt := m.newExpiresAt()
		err = m.store.RefreshSession(session.ID, newExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("error refreshing session: %w", err)
		}
		session.ExpiresAt = newExpiresAt
	}

	return &SessionValidationResult{Session: session, User: user}, nil
}

func (m *Manager) ValidateAccessToken(accessToken string) (*SessionValidationResult, error) {
	claims, err := m.parseAccessToken(accessToken, false)
	if err != nil {
		return nil, err
	}
	result, err := m.ValidateSessionToken(claims.SessionToken)
	if err != nil {
		return nil, err
	}
	if result != nil && result.User.ID != claims.Subject {
		return nil, fmt.Errorf("token subject does not match session")
	}
	return result, nil
}

// Refresh trades an access token, expired or not, for a new pair as long as
// its server session is still alive.
func (m *Manager) Refresh(w http.ResponseWriter, accessToken string) (*TokenPair, *store.User, error) {
	claims, err := m.parseAccessToken(accessToken, true)
	if err != nil {
		return nil, nil, err
	}
	result, err := m.ValidateSessionToken(claims.SessionToken)
	if err != nil {
		return nil, nil, err
	}
	if result == nil {
		return nil, nil, errors.New("session expired")
	}
	pair, err := m.issueTokens(claims.SessionToken, result.User)
	if err != nil {
		return nil, nil, err
	}
	m.SetSessionCookies(w, pair)
	return pair, result.User, nil
}

func (m *Manager) InvalidateSession(sessionID string) error {
	return m.store.DeleteSessionBySessionID(sessionID)
}

func (m *Manager) InvalidateUserSessions(userID string) error {
	return m.store.DeleteSessionByUserID(userID)
}

// Logout drops the server session behind an access token. Tokens that do not
// parse have no session to drop, so they are not an error.
func (m *Manager) Logout(accessToken string) error {
	claims, err := m.parseAccessToken(accessToken, true)
	if err != nil {
		return nil
	}
	return m.InvalidateSession(cryptoutil.ID(claims.SessionToken))
}

func (m *Manager) PurgeExpired() (int64, error) {
	return m.store.DeleteExpiredSessions(time.Now().Unix())
}

func (m *Manager) SetSessionCookies(w http.ResponseWriter, pair *TokenPair) {
	for _, name := range []string{AccessCookieName, IDCookieName} {
		value := pair.AccessToken
		if name == IDCookieName {
			value = pair.IDToken
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			HttpOnly: true,
			Path:     "/",
			Secure:   m.isProd,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Unix(pair.ExpiresAt, 0),
		})
	}
}

func (m *Manager) DeleteSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, IDCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			HttpOnly: true,
			Path:     "/",
			Secure:   m.isProd,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

// AccessToken reads the bearer header first and falls back to the auth_token cookie.
func AccessToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(AccessCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (m *Manager) GetCurrentSession(r *http.Request) (*SessionValidationResult, error) {
	token := AccessToken(r)
	if token == "" {
		return nil, fmt.Errorf("no access token on request")
	}

	result, err := m.ValidateAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("error validating access token: %w", err)
	}

	return result, nil
}

// CurrentUser never fails: anything short of a valid session is no user.
func (m *Manager) CurrentUser(r *http.Request) *store.User {
	result, err := m.GetCurrentSession(r)
	if err != nil || result == nil {
		return nil
	}
	return result.User
}

func WithSession(ctx context.Context, result *SessionValidationResult) context.Context {
	return context.WithValue(ctx, SessionContextKey, result)
}

func FromContext(ctx context.Context) (*SessionValidationResult, bool) {
	session, ok := ctx.Value(SessionContextKey).(*SessionValidationResult)
	return session, ok && session != nil
}

func (m *Manager) HandleCurrentSession(w http.ResponseWriter, r *http.Request) *herr.Error {
	response := struct {
		User *store.User `json:"user"`
	}{
		User: m.CurrentUser(r),
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(response); err != nil {
		return herr.Internal(err, "Error encoding response")
	}
	return nil
}

// HandleLogout clears the cookies whether or not a session could be found.
func (m *Manager) HandleLogout(w http.ResponseWriter, r *http.Request) *herr.Error {
	m.DeleteSessionCookies(w)

	if err := m.Logout(AccessToken(r)); err != nil {
		return herr.Internal(err, "Error invalidating session")
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (m *Manager) HandleRefresh(w http.ResponseWriter, r *http.Request) *herr.Error {
	token := AccessToken(r)
	if token == "" {
		return herr.Unauthorized(errors.New("no token"), "Refresh without access token")
	}
	pair, user, err := m.Refresh(w, token)
	if err != nil {
		m.DeleteSessionCookies(w)
		return herr.Unauthorized(err, "Error refreshing session")
	}

	w.Header().Set("Content-Type", "application/json")
	response := struct {
		User *store.User `json:"user"`
		*TokenPair
	}{User: user, TokenPair: pair}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		return herr.Internal(err, "Error encoding response")
	}
	return nil
}
