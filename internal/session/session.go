package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Upreak/Upjobv1-sub001/pkg/roles"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredentials = errors.New("session: no credentials presented")
	ErrInvalid       = errors.New("session: invalid token")
	ErrRevoked       = errors.New("session: revoked")
	// ErrUnavailable means the session could not be checked at all. Callers
	// must treat it exactly like a missing session.
	ErrUnavailable = errors.New("session: provider unavailable")
)

// CookieName is the cookie browsers carry the session token in.
const CookieName = "auth_token"

// Session is what a valid token proves about the caller.
type Session struct {
	UserID    string
	Role      roles.Role
	Name      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Resolver turns an inbound request into a Session. Every failure is
// reported as an error; a nil error always comes with a non-nil Session.
type Resolver interface {
	Resolve(r *http.Request) (*Session, error)
}

// Revocations reports whether an otherwise valid session has been revoked.
type Revocations interface {
	IsRevoked(ctx context.Context, s *Session) (bool, error)
}

type Claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type JWTResolver struct {
	pubKey      *rsa.PublicKey
	revocations Revocations
	parser      *jwt.Parser
}

type Options struct {
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Revocations is consulted on every request. Nil disables the check.
	Revocations Revocations
	Leeway      time.Duration
}

func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

func NewJWTResolver(pubKey *rsa.PublicKey, opts Options) *JWTResolver {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	return &JWTResolver{
		pubKey:      pubKey,
		revocations: opts.Revocations,
		parser:      jwt.NewParser(parserOpts...),
	}
}

func (j *JWTResolver) Resolve(r *http.Request) (*Session, error) {
	tokenStr := ExtractToken(r)
	if tokenStr == "" {
		return nil, ErrNoCredentials
	}
	token, err := j.parser.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return j.pubKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalid
	}
	s, err := sessionFromClaims(claims)
	if err != nil {
		return nil, err
	}

	if j.revocations != nil {
		revoked, err := j.revocations.IsRevoked(r.Context(), s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return s, nil
}

func sessionFromClaims(c *Claims) (*Session, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	role, ok := roles.Parse(c.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, c.Role)
	}
	s := &Session{
		UserID:  c.Subject,
		Role:    role,
		Name:    c.Name,
		TokenID: c.ID,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s, nil
}

// ExtractToken reads the bearer token, falling back to the session cookie
// browsers send on page navigations and websocket upgrades.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
