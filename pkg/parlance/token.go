package parlance

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const gatewayTokenTTL = 10 * time.Minute

// StaticTokenProvider returns a fixed bearer token, typically the raw
// API key when connecting directly to the upstream API.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	return p.token, nil
}

// GatewayTokenProvider mints short-lived HS256 tokens for deployments
// that front the realtime API with a gateway holding the shared secret.
// Tokens are cached and reissued shortly before expiry.
type GatewayTokenProvider struct {
	secret  []byte
	subject string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewGatewayTokenProvider(secret, subject string) (*GatewayTokenProvider, error) {
	if secret == "" {
		return nil, NewSessionError("gateway secret not set", ErrCodeConfigInvalid)
	}
	return &GatewayTokenProvider{secret: []byte(secret), subject: subject}, nil
}

func (p *GatewayTokenProvider) Token(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Reissue a minute early so the server never sees a stale token.
	if p.token != "" && time.Until(p.expiresAt) > time.Minute {
		return p.token, nil
	}

	expiresAt := time.Now().Add(gatewayTokenTTL)
	claims := jwt.MapClaims{
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	if p.subject != "" {
		claims["sub"] = p.subject
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", WrapError(err, ErrCodeAuthFailed)
	}

	p.token = signed
	p.expiresAt = expiresAt
	return signed, nil
}

// DecodeGatewayToken verifies a gateway token and returns its claims.
// Useful for gateway-side validation and for tests.
func DecodeGatewayToken(token, secret string) (map[string]interface{}, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, NewSessionError("unexpected signing method", ErrCodeAuthFailed)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, WrapError(err, ErrCodeAuthFailed)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, NewSessionError("invalid gateway token", ErrCodeAuthFailed)
	}
	return map[string]interface{}(claims), nil
}
