package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/godamri/helix-triggers/pkg/contextx"
)

// TrustedHeaderConfig configures gateway mode: an upstream gateway has
// authenticated the caller and forwards its id in a header.
type TrustedHeaderConfig struct {
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES" yaml:"trusted_proxies"` // e.g. ["127.0.0.1/32", "10.0.0.0/8"]
	HeaderUserID   string   `envconfig:"HEADER_USER_ID" yaml:"header_user_id"`   // default: X-Helix-User-ID
}

type TrustedHeaderStrategy struct {
	trustedCIDRs []*net.IPNet
	headerUserID string
	logger       *slog.Logger
}

func NewTrustedHeaderStrategy(cfg TrustedHeaderConfig, logger *slog.Logger) (*TrustedHeaderStrategy, error) {
	if len(cfg.TrustedProxies) == 0 {
		return nil, errors.New("security_risk: trusted_proxies list cannot be empty in gateway mode")
	}

	cidrs := make([]*net.IPNet, 0, len(cfg.TrustedProxies))
	for _, cidr := range cfg.TrustedProxies {
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil && ip.To4() != nil {
				cidr += "/32"
			} else if ip != nil {
				cidr += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr configuration: %s", cidr)
		}
		cidrs = append(cidrs, ipNet)
	}

	if cfg.HeaderUserID == "" {
		cfg.HeaderUserID = "X-Helix-User-ID"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TrustedHeaderStrategy{
		trustedCIDRs: cidrs,
		headerUserID: cfg.HeaderUserID,
		logger:       logger,
	}, nil
}

func (s *TrustedHeaderStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	host, _, err := net.SplitHostPort(payload.RemoteAddr)
	if err != nil {
		s.logger.WarnContext(ctx, "auth rejected: failed to parse remote addr", "addr", payload.RemoteAddr)
		return nil, errors.New("unauthorized gateway connection")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.New("invalid remote ip")
	}

	trusted := false
	for _, cidr := range s.trustedCIDRs {
		if cidr.Contains(ip) {
			trusted = true
			break
		}
	}
	if !trusted {
		s.logger.WarnContext(ctx, "SECURITY ALERT: untrusted source sent gateway identity headers",
			"ip", host,
			"path", payload.Path,
		)
		return nil, errors.New("forbidden: untrusted source")
	}

	userID := strings.TrimSpace(payload.GetHeader(s.headerUserID))
	if userID == "" {
		return nil, errors.New("missing identity header")
	}

	return contextx.WithAuthPrincipalID(ctx, userID), nil
}
