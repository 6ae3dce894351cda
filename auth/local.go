package auth

import (
	"context"
	"errors"
	"fittrack/apperr"
	"fittrack/store"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Local keeps bcrypt password hashes in the FitTrack store.
type Local struct {
	store store.Store
	cost  int
}

func NewLocal(store store.Store) *Local {
	return &Local{store: store, cost: bcrypt.DefaultCost}
}

func (l *Local) SignUp(_ context.Context, creds Credentials) (*store.User, error) {
	if err := validateSignup(&creds); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), l.cost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	user := &store.User{
		Email:        creds.Email,
		Username:     creds.Username,
		Name:         creds.Name,
		PasswordHash: string(hash),
	}
	if _, err := l.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, apperr.Invalid("email", "Email is already registered")
		}
		return nil, err
	}
	return user, nil
}

func (l *Local) Authenticate(_ context.Context, email, password string) (*store.User, error) {
	if email == "" || password == "" {
		return nil, apperr.Invalid("email", "Provide email and password")
	}
	user, err := l.store.UserByEmail(normalizeEmail(email))
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}
