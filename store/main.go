package store

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrSessionNotFound  = errors.New("session not found")
	ErrActivityNotFound = errors.New("activity not found")
)

type Store interface {
	CreateUser(user *User) (string, error)
	UserByEmail(email string) (*User, error)
	UserByID(userID string) (*User, error)
	DeleteUser(userID string) error
	CreateSession(sessionID string, userID string, expiresAt int64) (*Session, error)
	DeleteSessionByUserID(userID string) (err error)
	DeleteSessionBySessionID(sessionID string) (err error)
	DeleteExpiredSessions(now int64) (int64, error)
	SessionAndUserBySessionID(sessionID string) (*Session, *User, error)
	RefreshSession(sessionID string, newExpiresAt int64) error
	CreateActivity(activity *Activity) error
	ActivitiesByOwner(ownerID string) ([]*Activity, error)
	ActivityByID(activityID string) (*Activity, error)
	DeleteActivity(activityID string) error
	Ping() error
	Close() error
}

const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

func New(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return newSQLiteStore(path)
	case DriverJSON:
		return newJSONStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
