package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/godamri/helix-triggers/crypto"
	"github.com/godamri/helix-triggers/pkg/contextx"
)

type JWTStrategy struct {
	verifier crypto.Verifier
	logger   *slog.Logger
}

func NewJWTStrategy(verifier crypto.Verifier, logger *slog.Logger) *JWTStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTStrategy{
		verifier: verifier,
		logger:   logger,
	}
}

func (s *JWTStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	authHeader := payload.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errors.New("missing authorization header")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, errors.New("invalid authorization header format")
	}

	claims, err := s.verifier.VerifyToken(token)
	if err != nil {
		s.logger.WarnContext(ctx, "jwt verification failed", "error", err, "ip", payload.RemoteAddr)
		if errors.Is(err, crypto.ErrExpiredToken) {
			return nil, errors.New("token expired")
		}
		return nil, errors.New("invalid token")
	}

	return contextx.WithAuthPrincipalID(ctx, claims.Subject), nil
}
