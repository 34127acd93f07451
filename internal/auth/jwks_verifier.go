package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"resty.dev/v3"

	"github.com/makeasinger/videoagent/internal/config"
)

// JWKSVerifier validates tokens issued by an OIDC provider
type JWKSVerifier struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
}

// NewJWKSVerifier discovers the issuer's key set and keeps it refreshed
func NewJWKSVerifier(ctx context.Context, cfg config.AuthConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("auth issuer is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	jwksURL, err := discoverJWKSURL(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	return &JWKSVerifier{
		jwks:     jwks,
		issuer:   cfg.Issuer,
		audience: cfg.ClientID,
	}, nil
}

// discoverJWKSURL fetches the OIDC discovery document and extracts the jwks_uri.
func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	client := resty.New()
	defer client.Close()

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&doc).
		Get(strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration")
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode())
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("jwks_uri not found in discovery document")
	}
	return doc.JWKSURI, nil
}

func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// NewVerifier builds the verifier chain from config: JWKS first when an
// issuer is set, then the shared secret.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	var chain Chain
	if cfg.Issuer != "" {
		jwks, err := NewJWKSVerifier(ctx, cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, jwks)
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, NewHMACVerifier(cfg.JWTSecret))
	}
	if len(chain) == 0 {
		return nil, ErrNoVerifier
	}
	return chain, nil
}
