package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned for every verification failure. The cause
	// (expired, tampered, wrong kind) is deliberately not exposed.
	ErrInvalidToken = errors.New("invalid token")

	ErrSigningKeyMissing = errors.New("token signing key is not configured")
)

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the JWT payload for both token kinds. Role is empty on refresh
// tokens so a role change takes effect at the next refresh.
type Claims struct {
	jwt.RegisteredClaims
	Role Role      `json:"role,omitempty"`
	Type TokenKind `json:"typ"`
}

// Subject is the minimal identity a token is issued for.
type Subject struct {
	ID   uuid.UUID
	Role Role
}

// Token is a signed token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &TokenService{cfg: cfg, now: time.Now}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.cfg.AccessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

func (s *TokenService) IssueAccessToken(sub Subject) (Token, error) {
	return s.issue(sub.ID, sub.Role, AccessToken)
}

func (s *TokenService) IssueRefreshToken(sub Subject) (Token, error) {
	return s.issue(sub.ID, "", RefreshToken)
}

func (s *TokenService) issue(id uuid.UUID, role Role, kind TokenKind) (Token, error) {
	secret, ttl := s.params(kind)
	if len(secret) == 0 {
		return Token{}, ErrSigningKeyMissing
	}

	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Role: role,
		Type: kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify checks signature, expiry, issuer and token kind.
func (s *TokenService) Verify(raw string, kind TokenKind) (*Claims, error) {
	secret, _ := s.params(kind)
	if len(secret) == 0 || raw == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != kind {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SubjectID parses the subject claim. Verify has already validated it.
func (c *Claims) SubjectID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

func (s *TokenService) params(kind TokenKind) ([]byte, time.Duration) {
	if kind == RefreshToken {
		return s.cfg.RefreshSecret, s.cfg.RefreshTTL
	}
	return s.cfg.AccessSecret, s.cfg.AccessTTL
}
