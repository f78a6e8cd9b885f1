package handoff

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/satriahrh/mianshi/domain/entities"
)

// DefaultTTL is how long a handoff token stays valid
const DefaultTTL = 24 * time.Hour

// ErrInvalidToken is returned when a handoff token fails verification
var ErrInvalidToken = errors.New("invalid handoff token")

// Payload is the terminal output of an interview session
type Payload struct {
	Messages []entities.Message `json:"messages"`
	Settings entities.Settings  `json:"settings"`
}

// Claims represents the claims in a handoff token
type Claims struct {
	Payload
	jwt.RegisteredClaims
}

// Codec signs and verifies URL-safe handoff tokens
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a codec signing with HS256
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("handoff secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Encode signs the payload into a compact token
func (c *Codec) Encode(p Payload) (string, error) {
	now := c.now()
	claims := &Claims{
		Payload: p,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign handoff token: %w", err)
	}
	return signed, nil
}

// Decode verifies a token and returns its payload
func (c *Codec) Decode(tokenString string) (*Payload, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &claims.Payload, nil
	}
	return nil, ErrInvalidToken
}

// ResultURL appends the token to the result page address as the data parameter
func ResultURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid result page url: %w", err)
	}
	q := u.Query()
	q.Set("data", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
