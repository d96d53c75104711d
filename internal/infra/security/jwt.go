package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/social-platform-growth/internal/infra/config"
)

var (
	// ErrTokenExpired indicates the admin token is past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid indicates the admin token failed signature or claim validation.
	ErrTokenInvalid = errors.New("jwt: invalid token")
	// ErrRoleMissing indicates a valid token that does not carry the admin role.
	ErrRoleMissing = errors.New("jwt: admin role required")
)

const defaultAdminTokenTTL = 15 * time.Minute

// AdminClaims identifies the reviewer acting on the admin surface. The subject is the reviewer id.
type AdminClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether role was granted.
func (c *AdminClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AdminTokenManager signs and verifies HS256 admin bearer tokens.
type AdminTokenManager struct {
	secret   []byte
	issuer   string
	audience string
	role     string
	leeway   time.Duration
	now      func() time.Time
}

// NewAdminTokenManager builds a manager from the jwt config section.
func NewAdminTokenManager(cfg config.JWTSettings) (*AdminTokenManager, error) {
	secret := strings.TrimSpace(cfg.AdminSecret)
	if secret == "" {
		return nil, fmt.Errorf("jwt: admin secret is required")
	}
	role := strings.TrimSpace(cfg.AdminRole)
	if role == "" {
		role = "growth:reviewer"
	}
	return &AdminTokenManager{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		role:     role,
		leeway:   cfg.Leeway,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the manager clock for deterministic testing.
func (m *AdminTokenManager) WithClock(clock func() time.Time) *AdminTokenManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Issue signs a token for subject carrying the admin role. It backs growthctl and local tooling.
func (m *AdminTokenManager) Issue(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("jwt: subject is required")
	}
	if ttl <= 0 {
		ttl = defaultAdminTokenTTL
	}

	now := m.now()
	claims := &AdminClaims{
		Roles: []string{m.role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses raw and returns its claims when the token is valid and carries the admin role.
func (m *AdminTokenManager) Verify(raw string) (*AdminClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	if !claims.HasRole(m.role) {
		return nil, ErrRoleMissing
	}
	return claims, nil
}
