package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"identity-gateway/internal/domain"
)

var (
	// ErrMalformedToken covers unparsable, unsigned, tampered or foreign-key tokens.
	ErrMalformedToken = errors.New("malformed token")
	// ErrEmptySubject is returned when issuing a token without a subject.
	ErrEmptySubject = errors.New("token subject is required")
)

var reservedClaims = map[string]struct{}{"sub": {}, "iat": {}, "exp": {}}

// TokenConfig carries the process-wide signing material.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
}

// TokenCodec issues and reads HS256 bearer tokens.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token signing secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &TokenCodec{
		secret: secret,
		ttl:    cfg.TTL,
		// expiry is judged by IsExpired against the caller's clock
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the configured token lifetime.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for subject, valid from now until now+TTL. Both instants
// are truncated to whole seconds, the resolution of the encoded claims.
func (c *TokenCodec) Issue(subject string, extra map[string]any, now time.Time) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ErrEmptySubject
	}

	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims[k] = v
	}
	claims["sub"] = subject
	now = now.Truncate(time.Second)
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(c.ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ExtractSubject returns the token subject.
func (c *TokenCodec) ExtractSubject(token string) (string, error) {
	claims, err := c.parse(token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	return claims.Subject, nil
}

// ExtractExpiry returns the token expiry instant.
func (c *TokenCodec) ExtractExpiry(token string) (time.Time, error) {
	claims, err := c.parse(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing expiry", ErrMalformedToken)
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether the token expiry lies strictly before now.
func (c *TokenCodec) IsExpired(token string, now time.Time) (bool, error) {
	exp, err := c.ExtractExpiry(token)
	if err != nil {
		return false, err
	}
	return exp.Before(now), nil
}

// SubjectMatches reports whether the token was issued for the account's username.
func (c *TokenCodec) SubjectMatches(token string, account *domain.Account) (bool, error) {
	if account == nil {
		return false, nil
	}
	subject, err := c.ExtractSubject(token)
	if err != nil {
		return false, err
	}
	return subject == account.Username, nil
}

func (c *TokenCodec) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
