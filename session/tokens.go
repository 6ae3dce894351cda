package session

import (
	"errors"
	"fittrack/store"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	useAccess = "access"
	useID     = "id"
	issuer    = "fittrack"
)

var ErrWrongTokenUse = errors.New("wrong token use")

// TokenPair is what a client keeps after login. The access token authorizes
// API calls, the id token carries the profile.
type TokenPair struct {
	AccessToken string `json:"accessToken"`
	IDToken     string `json:"idToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

type Claims struct {
	TokenUse     string `json:"token_use"`
	SessionToken string `json:"sid,omitempty"`
	Email        string `json:"email,omitempty"`
	Username     string `json:"username,omitempty"`
	Name         string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (m *Manager) issueTokens(sessionToken string, user *store.User) (*TokenPair, error) {
	now := time.Now()
	expiresAt := now.Add(m.tokenTTL)
	registered := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		}
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenUse:         useAccess,
		SessionToken:     sessionToken,
		RegisteredClaims: registered(),
	}).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("error signing access token: %w", err)
	}

	id, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenUse:         useID,
		Email:            user.Email,
		Username:         user.Username,
		Name:             user.Name,
		RegisteredClaims: registered(),
	}).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("error signing id token: %w", err)
	}

	return &TokenPair{AccessToken: access, IDToken: id, ExpiresAt: expiresAt.Unix()}, nil
}

// parseAccessToken checks signature, issuer and use. With allowExpired the
// time claims are ignored, which is what a refresh needs.
func (m *Manager) parseAccessToken(token string, allowExpired bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error parsing access token: %w", err)
	}
	// WithoutClaimsValidation skips WithIssuer too.
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("error parsing access token: %w", jwt.ErrTokenInvalidIssuer)
	}
	if claims.TokenUse != useAccess || claims.SessionToken == "" {
		return nil, ErrWrongTokenUse
	}
	return claims, nil
}
