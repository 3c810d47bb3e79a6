package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes granted to API clients. ScopeAdmin implies the other two.
const (
	ScopeRead  = "ledger:read"
	ScopeWrite = "ledger:write"
	ScopeAdmin = "ledger:admin"
)

const defaultTokenTTL = 15 * time.Minute

var (
	ErrMissingSecret = errors.New("missing signing secret")
	ErrInvalidToken  = errors.New("invalid token")
)

// AccessTokenClaims is the payload of a bearer token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

// Principal is the authenticated caller of one request.
type Principal struct {
	ClientID string
	Scopes   map[string]struct{}
}

func NewPrincipal(clientID string, scopes ...string) *Principal {
	p := &Principal{ClientID: clientID, Scopes: make(map[string]struct{}, len(scopes))}
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			p.Scopes[s] = struct{}{}
		}
	}
	return p
}

func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.Scopes[ScopeAdmin]; ok {
		return true
	}
	_, ok := p.Scopes[scope]
	return ok
}

// ScopeList returns the granted scopes in sorted order.
func (p *Principal) ScopeList() []string {
	out := make([]string, 0, len(p.Scopes))
	for s := range p.Scopes {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Signer mints HS256 access tokens for clients.
type Signer struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Sign returns a token for clientID with scopes and its expiry.
func (s *Signer) Sign(clientID string, scopes []string) (string, time.Time, error) {
	if len(s.Secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	if clientID == "" {
		return "", time.Time{}, errors.New("missing client id")
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	exp := now.Add(ttl)

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		ClientID: clientID,
		Scopes:   scopes,
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Validator checks HS256 access tokens.
type Validator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewValidator(secret []byte, issuer, audience string) (*Validator, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	return &Validator{secret: secret, issuer: issuer, audience: audience, now: time.Now}, nil
}

// Validate verifies the signature and registered claims and returns the
// principal. All failures wrap ErrInvalidToken.
func (v *Validator) Validate(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &AccessTokenClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}

	clientID := claims.ClientID
	if clientID == "" {
		clientID = claims.Subject
	}
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client id", ErrInvalidToken)
	}
	return NewPrincipal(clientID, claims.Scopes...), nil
}
