package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("crypto: invalid token")
	ErrExpiredToken = errors.New("crypto: token expired")
)

// Verifier checks a bearer token and returns its claims.
type Verifier interface {
	VerifyToken(tokenString string) (*CallerClaims, error)
}

type JWTConfig struct {
	Secret string        `envconfig:"SECRET" yaml:"secret"`
	Issuer string        `envconfig:"ISSUER" yaml:"issuer"`
	Leeway time.Duration `envconfig:"LEEWAY" yaml:"leeway"`
}

// HMACVerifier validates HS256 tokens signed with a shared gateway secret.
type HMACVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewHMACVerifier(cfg JWTConfig) (*HMACVerifier, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("crypto: jwt secret must be at least 32 bytes")
	}
	return &HMACVerifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
	}, nil
}

func (v *HMACVerifier) VerifyToken(tokenString string) (*CallerClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CallerClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for subject. Used by tooling and tests that stand in
// for the gateway.
func (v *HMACVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
