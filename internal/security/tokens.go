package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, signed with another key or algorithm, or of the wrong type.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a well-signed token is past its exp claim.
	ErrExpiredToken = errors.New("token expired")
	// ErrSigningKeyMissing is returned when the provider is built without a secret. It is a configuration fault.
	ErrSigningKeyMissing = errors.New("signing secret not configured")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims holds the JWT claims shared by access and refresh tokens.
// Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Type  string `json:"typ"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithTokenClock overrides the clock used to stamp and check iat/exp. Intended for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(p *TokenProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// TokenProvider issues and validates HS256 access and refresh tokens with one shared secret.
type TokenProvider struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider signing with secret. refreshTTL must be the same
// duration the ledger uses for expires_at so the signature and the ledger agree on expiry.
func NewTokenProvider(secret []byte, accessTTL, refreshTTL time.Duration, opts ...TokenOption) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, ErrSigningKeyMissing
	}
	p := &TokenProvider{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT for the user. Returns the token and its expiration time.
func (p *TokenProvider) IssueAccess(userID, email string) (string, time.Time, error) {
	return p.issue(userID, email, tokenTypeAccess, p.accessTTL)
}

// IssueRefresh issues a long-lived refresh JWT for the user. Returns the token and its expiration time.
func (p *TokenProvider) IssueRefresh(userID, email string) (string, time.Time, error) {
	return p.issue(userID, email, tokenTypeRefresh, p.refreshTTL)
}

func (p *TokenProvider) issue(userID, email, typ string, ttl time.Duration) (string, time.Time, error) {
	if len(p.secret) == 0 {
		return "", time.Time{}, ErrSigningKeyMissing
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	// exp is carried at JWT precision; callers get the same instant the token holds.
	exp := jwt.NewNumericDate(now.Add(ttl))
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
		Email: email,
		Type:  typ,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp.Time.UTC(), nil
}

// ValidateAccess parses and validates an access token (signature, exp, typ).
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.validate(tokenString, tokenTypeAccess)
}

// ValidateRefresh parses and validates a refresh token (signature, exp, typ).
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	return p.validate(tokenString, tokenTypeRefresh)
}

func (p *TokenProvider) validate(tokenString, typ string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
