package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// blob is the whole state, persisted as one JSON document. Activities are kept
// newest first, the way the browser prototype prepended them.
type blob struct {
	Users      []*jsonUser `json:"users"`
	Sessions   []*Session  `json:"sessions"`
	Activities []*Activity `json:"activities"`
}

type jsonUser struct {
	User
	PasswordHash string `json:"passwordHash"`
}

type jsonStore struct {
	path  string
	data  blob
	mutex sync.Mutex
}

func newJSONStore(path string) (Store, error) {
	s := &jsonStore{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading state file: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("error decoding state file: %w", err)
		}
	}
	return s, nil
}

// save writes the blob to a temp file and renames it over the old one.
// Callers hold the mutex.
func (s *jsonStore) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".fittrack-*.json")
	if err != nil {
		return fmt.Errorf("error creating temp state file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("error writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("error closing temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("error replacing state file: %w", err)
	}
	return nil
}

func (s *jsonStore) findUser(match func(*jsonUser) bool) *jsonUser {
	for _, u := range s.data.Users {
		if match(u) {
			return u
		}
	}
	return nil
}

func toUser(u *jsonUser) *User {
	user := u.User
	user.PasswordHash = u.PasswordHash
	return &user
}

func (s *jsonStore) CreateUser(user *User) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.findUser(func(u *jsonUser) bool { return strings.EqualFold(u.Email, user.Email) }) != nil {
		return "", ErrEmailTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if s.findUser(func(u *jsonUser) bool { return u.ID == user.ID }) != nil {
		return "", fmt.Errorf("error creating user: duplicate id %s", user.ID)
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	s.data.Users = append(s.data.Users, &jsonUser{User: *user, PasswordHash: user.PasswordHash})
	if err := s.save(); err != nil {
		s.data.Users = s.data.Users[:len(s.data.Users)-1]
		return "", err
	}
	return user.ID, nil
}

func (s *jsonStore) UserByEmail(email string) (*User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	u := s.findUser(func(u *jsonUser) bool { return strings.EqualFold(u.Email, email) })
	if u == nil {
		return nil, ErrUserNotFound
	}
	return toUser(u), nil
}

func (s *jsonStore) UserByID(userID string) (*User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	u := s.findUser(func(u *jsonUser) bool { return u.ID == userID })
	if u == nil {
		return nil, ErrUserNotFound
	}
	return toUser(u), nil
}

func (s *jsonStore) DeleteUser(userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	users := filter(s.data.Users, func(u *jsonUser) bool { return u.ID != userID })
	if len(users) == len(s.data.Users) {
		return ErrUserNotFound
	}
	s.data.Users = users
	s.data.Sessions = filter(s.data.Sessions, func(ss *Session) bool { return ss.UserID != userID })
	s.data.Activities = filter(s.data.Activities, func(a *Activity) bool { return a.OwnerID != userID })
	return s.save()
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func (s *jsonStore) CreateSession(sessionID string, userID string, expiresAt int64) (*Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.findUser(func(u *jsonUser) bool { return u.ID == userID }) == nil {
		return nil, ErrUserNotFound
	}
	for _, ss := range s.data.Sessions {
		if ss.ID == sessionID {
			return nil, fmt.Errorf("error creating session: duplicate id")
		}
	}
	session := &Session{ID: sessionID, UserID: userID, ExpiresAt: expiresAt}
	s.data.Sessions = append(s.data.Sessions, session)
	if err := s.save(); err != nil {
		s.data.Sessions = s.data.Sessions[:len(s.data.Sessions)-1]
		return nil, err
	}
	copied := *session
	return &copied, nil
}

func (s *jsonStore) deleteSessions(keep func(*Session) bool) (int64, error) {
	before := len(s.data.Sessions)
	s.data.Sessions = filter(s.data.Sessions, keep)
	removed := int64(before - len(s.data.Sessions))
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save()
}

func (s *jsonStore) DeleteSessionByUserID(userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.deleteSessions(func(ss *Session) bool { return ss.UserID != userID })
	return err
}

func (s *jsonStore) DeleteSessionBySessionID(sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.deleteSessions(func(ss *Session) bool { return ss.ID != sessionID })
	return err
}

func (s *jsonStore) DeleteExpiredSessions(now int64) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.deleteSessions(func(ss *Session) bool { return ss.ExpiresAt >= now })
}

func (s *jsonStore) SessionAndUserBySessionID(sessionID string) (*Session, *User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, ss := range s.data.Sessions {
		if ss.ID != sessionID {
			continue
		}
		u := s.findUser(func(u *jsonUser) bool { return u.ID == ss.UserID })
		if u == nil {
			return nil, nil, ErrSessionNotFound
		}
		copied := *ss
		return &copied, toUser(u), nil
	}
	return nil, nil, ErrSessionNotFound
}

func (s *jsonStore) RefreshSession(sessionID string, newExpiresAt int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, ss := range s.data.Sessions {
		if ss.ID == sessionID {
			ss.ExpiresAt = newExpiresAt
			return s.save()
		}
	}
	return nil
}

func (s *jsonStore) CreateActivity(activity *Activity) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.findUser(func(u *jsonUser) bool { return u.ID == activity.OwnerID }) == nil {
		return fmt.Errorf("error creating activity: %w", ErrUserNotFound)
	}
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt == 0 {
		activity.CreatedAt = time.Now().UnixMilli()
	}
	copied := *activity
	previous := s.data.Activities
	s.data.Activities = append([]*Activity{&copied}, previous...)
	if err := s.save(); err != nil {
		s.data.Activities = previous
		return err
	}
	return nil
}

func (s *jsonStore) ActivitiesByOwner(ownerID string) ([]*Activity, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	activities := []*Activity{}
	for _, a := range s.data.Activities {
		if a.OwnerID == ownerID {
			copied := *a
			activities = append(activities, &copied)
		}
	}
	return activities, nil
}

func (s *jsonStore) ActivityByID(activityID string) (*Activity, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, a := range s.data.Activities {
		if a.ID == activityID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrActivityNotFound
}

func (s *jsonStore) DeleteActivity(activityID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	previous := s.data.Activities
	s.data.Activities = filter(previous, func(a *Activity) bool { return a.ID != activityID })
	if len(s.data.Activities) == len(previous) {
		return ErrActivityNotFound
	}
	if err := s.save(); err != nil {
		s.data.Activities = previous
		return err
	}
	return nil
}

func (s *jsonStore) Ping() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := os.Stat(s.path)
	return err
}

func (s *jsonStore) Close() error {
	return nil
}
