package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	downloadIssuer   = "metabolic-panel"
	downloadAudience = "report-download"
)

var (
	ErrTokenInvalid = errors.New("download token is invalid")
	ErrTokenExpired = errors.New("download token has expired")
)

// DownloadClaims authorizes a single artifact download. The subject is the
// artifact ID.
type DownloadClaims struct {
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies short-lived HS256 download tokens so that
// report links cannot be guessed or reused after they expire.
type TokenSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenSigner creates a signer. When key is empty a random 32-byte key is
// generated; links then stop working after a restart.
func NewTokenSigner(key []byte, ttl time.Duration) (*TokenSigner, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("download token ttl must be positive, got %s", ttl)
	}
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate download signing key: %w", err)
		}
	}
	return &TokenSigner{key: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Issue returns a token for artifactID and its expiry.
func (s *TokenSigner) Issue(artifactID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := DownloadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    downloadIssuer,
			Subject:   artifactID,
			Audience:  jwt.ClaimStrings{downloadAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry, issuer, audience and that the token was
// issued for artifactID.
func (s *TokenSigner) Verify(tokenStr, artifactID string) error {
	if tokenStr == "" {
		return ErrTokenInvalid
	}
	claims := &DownloadClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(downloadIssuer),
		jwt.WithAudience(downloadAudience),
		jwt.WithSubject(artifactID),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}

// RequireDownloadToken returns middleware that verifies the "token" query
// parameter against the ":id" path parameter.
func RequireDownloadToken(s *TokenSigner) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := s.Verify(c.QueryParam("token"), c.Param("id"))
			switch {
			case err == nil:
				return next(c)
			case errors.Is(err, ErrTokenExpired):
				return echo.NewHTTPError(http.StatusForbidden, "download link has expired")
			default:
				return echo.NewHTTPError(http.StatusForbidden, "invalid download link")
			}
		}
	}
}
