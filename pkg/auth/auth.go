package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/log"
)

// Principal is the verified identity the core consumes: a user ID plus an
// optional pod claim restricting the token to one pod.
type Principal struct {
	UserID string
	Pod    string
}

type claims struct {
	Pod string `json:"pod,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HMAC-signed bearer tokens
type Manager struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewManager creates a token manager. Without a configured key a random
// one is generated, which only supports tokens issued by this process.
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	key := []byte(cfg.TokenKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeInternalError, "failed to generate token key", err)
		}
		log.Warn("no auth token key configured, generated an ephemeral one")
	}

	ttl := cfg.TokenTTL.Std()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Manager{key: key, issuer: cfg.Issuer, ttl: ttl}, nil
}

// Issue mints a bearer token for a user, optionally scoped to a pod
func (m *Manager) Issue(userID, pod string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Pod: pod,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", errdefs.Wrap(errdefs.CodeInternalError, "failed to sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its principal
func (m *Manager) Verify(tokenString string) (*Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errdefs.New(errdefs.CodeTokenExpired, "token expired")
		}
		return nil, errdefs.Wrap(errdefs.CodeInvalidToken, "invalid token", err)
	}

	if c.Subject == "" {
		return nil, errdefs.New(errdefs.CodeInvalidToken, "token has no subject")
	}

	return &Principal{UserID: c.Subject, Pod: c.Pod}, nil
}

// CheckPodClaim enforces the token's pod scope against the requested pod
func CheckPodClaim(p *Principal, pod string) error {
	if p.Pod != "" && p.Pod != pod {
		return errdefs.Newf(errdefs.CodePodMismatch, "token is scoped to pod %s", p.Pod)
	}
	return nil
}

// GenerateKeyHex returns a fresh random key for configuration bootstrap
func GenerateKeyHex() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
