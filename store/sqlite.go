package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

type sqliteStore struct {
	db    *sql.DB
	mutex sync.Mutex
}

func newSQLiteStore(path string) (Store, error) {
	// foreign keys are per connection, so they go in the DSN rather than a one-off PRAGMA
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	store := &sqliteStore{
		db: db,
	}

	if err := store.initializeTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing tables: %w", err)
	}

	return store, nil
}

func (s *sqliteStore) initializeTables() error {
	_, err := s.db.Exec(`
        CREATE TABLE IF NOT EXISTS user (
            id TEXT NOT NULL PRIMARY KEY,
            email TEXT NOT NULL UNIQUE COLLATE NOCASE,
            username TEXT NOT NULL,
            name TEXT NOT NULL,
            password_hash TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating user table: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE TABLE IF NOT EXISTS session (
            id TEXT NOT NULL PRIMARY KEY,
            user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
            expires_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating session table: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE TABLE IF NOT EXISTS activity (
            id TEXT NOT NULL PRIMARY KEY,
            owner_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
            type TEXT NOT NULL,
            date TEXT NOT NULL,
            duration_minutes REAL NOT NULL CHECK (duration_minutes >= 0),
            distance_km REAL NOT NULL DEFAULT 0 CHECK (distance_km >= 0),
            photo_url TEXT NOT NULL DEFAULT '',
            photo_key TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating activity table: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE INDEX IF NOT EXISTS activity_owner_index ON activity(owner_id, created_at)
    `)
	if err != nil {
		return fmt.Errorf("error creating activity owner index: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *sqliteStore) CreateUser(user *User) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	query := `
        INSERT INTO user (id, email, username, name, password_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.Exec(query, user.ID, user.Email, user.Username, user.Name, user.PasswordHash, user.CreatedAt)
	if isUniqueViolation(err) && strings.Contains(err.Error(), "user.email") {
		return "", ErrEmailTaken
	}
	if err != nil {
		return "", fmt.Errorf("error creating user: %w", err)
	}
	return user.ID, nil
}

func (s *sqliteStore) userBy(column, value string) (*User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	user := &User{}
	err := s.db.QueryRow(`
        SELECT id, email, username, name, password_hash, created_at
        FROM user
        WHERE `+column+` = ?
    `, value).Scan(&user.ID, &user.Email, &user.Username, &user.Name, &user.PasswordHash, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	return user, nil
}

func (s *sqliteStore) UserByEmail(email string) (*User, error) {
	return s.userBy("email", email)
}

func (s *sqliteStore) UserByID(userID string) (*User, error) {
	return s.userBy("id", userID)
}

func (s *sqliteStore) DeleteUser(userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result, err := s.db.Exec("DELETE FROM user WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (s *sqliteStore) CreateSession(sessionID string, userID string, expiresAt int64) (*Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow("SELECT EXISTS(SELECT 1 FROM user WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("error checking user existence: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	query := "INSERT INTO session (id, user_id, expires_at) VALUES (?, ?, ?)"
	_, err = tx.Exec(query, sessionID, userID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing transaction: %w", err)
	}

	session := &Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	return session, nil
}

func (s *sqliteStore) DeleteSessionByUserID(userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.Exec("DELETE FROM session WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("error deleting session by userID: %w", err)
	}

	return nil
}

func (s *sqliteStore) DeleteSessionBySessionID(sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.Exec("DELETE FROM session WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("error deleting session by sessionID: %w", err)
	}
	return nil
}

func (s *sqliteStore) DeleteExpiredSessions(now int64) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result, err := s.db.Exec("DELETE FROM session WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("error deleting expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) SessionAndUserBySessionID(sessionID string) (*Session, *User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := &Session{}
	user := &User{}

	query := `
        SELECT session.id, session.user_id, session.expires_at,
               user.id, user.email, user.username, user.name, user.password_hash, user.created_at
        FROM session
        INNER JOIN user ON session.user_id = user.id
        WHERE session.id = ?
    `
	err := s.db.QueryRow(query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.ExpiresAt,
		&user.ID,
		&user.Email,
		&user.Username,
		&user.Name,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error getting session and user: %w", err)
	}

	return session, user, nil
}

func (s *sqliteStore) RefreshSession(sessionID string, newExpiresAt int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	query := "UPDATE session SET expires_at = ? WHERE id = ?"
	_, err := s.db.Exec(query, newExpiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("error updating session: %w", err)
	}
	return nil
}

func (s *sqliteStore) CreateActivity(activity *Activity) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt == 0 {
		activity.CreatedAt = time.Now().UnixMilli()
	}
	query := `
        INSERT INTO activity (id, owner_id, type, date, duration_minutes, distance_km, photo_url, photo_key, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.Exec(query,
		activity.ID,
		activity.OwnerID,
		activity.Type,
		activity.Date,
		activity.DurationMinutes,
		activity.DistanceKm,
		activity.PhotoURL,
		activity.PhotoKey,
		activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error creating activity: %w", err)
	}
	return nil
}

const activityColumns = `id, owner_id, type, date, duration_minutes, distance_km, photo_url, photo_key, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (*Activity, error) {
	a := &Activity{}
	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.Type,
		&a.Date,
		&a.DurationMinutes,
		&a.DistanceKm,
		&a.PhotoURL,
		&a.PhotoKey,
		&a.CreatedAt,
	)
	return a, err
}

func (s *sqliteStore) ActivitiesByOwner(ownerID string) ([]*Activity, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	rows, err := s.db.Query(`
        SELECT `+activityColumns+`
        FROM activity
        WHERE owner_id = ?
        ORDER BY created_at DESC, rowid DESC
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error querying activities: %w", err)
	}
	defer rows.Close()

	activities := []*Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return activities, nil
}

func (s *sqliteStore) ActivityByID(activityID string) (*Activity, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	row := s.db.QueryRow(`SELECT `+activityColumns+` FROM activity WHERE id = ?`, activityID)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting activity: %w", err)
	}
	return a, nil
}

func (s *sqliteStore) DeleteActivity(activityID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result, err := s.db.Exec("DELETE FROM activity WHERE id = ?", activityID)
	if err != nil {
		return fmt.Errorf("error deleting activity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrActivityNotFound
	}
	return nil
}

func (s *sqliteStore) Ping() error {
	return s.db.Ping()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
