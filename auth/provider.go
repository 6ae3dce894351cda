package auth

import (
	"context"
	"fittrack/apperr"
	"fittrack/store"
	"net/mail"
	"strings"
)

const (
	minPasswordLength = 8
	// bcrypt ignores anything past 72 bytes and x/crypto refuses to hash it.
	maxPasswordLength = 72
)

// Credentials is what signup and login forms post.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Provider verifies who a user is. Sessions are issued by the session manager
// regardless of which provider vouched for the user.
type Provider interface {
	SignUp(ctx context.Context, creds Credentials) (*store.User, error)
	Authenticate(ctx context.Context, email, password string) (*store.User, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateSignup normalizes creds in place and reports the first problem found.
func validateSignup(creds *Credentials) error {
	creds.Email = normalizeEmail(creds.Email)
	creds.Username = strings.TrimSpace(creds.Username)
	creds.Name = strings.TrimSpace(creds.Name)
	if creds.Email == "" || creds.Password == "" {
		return apperr.Invalid("email", "Provide email and password")
	}
	addr, err := mail.ParseAddress(creds.Email)
	if err != nil || addr.Address != creds.Email {
		return apperr.Invalid("email", "Email address is malformed")
	}
	if len(creds.Password) < minPasswordLength {
		return apperr.Invalid("password", "Password must be at least 8 characters")
	}
	if len(creds.Password) > maxPasswordLength {
		return apperr.Invalid("password", "Password must be at most 72 bytes")
	}
	if creds.Username == "" {
		creds.Username = creds.Email
	}
	return nil
}

var errInvalidCredentials = apperr.Unauthenticated("Invalid email or password", nil)
