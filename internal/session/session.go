package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"table-bidding/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const (
	// BidderCookie carries a bidder session
	BidderCookie = "meraki_session"
	// SpectatorCookie carries a view-only session
	SpectatorCookie = "meraki_spectator_session"

	// DefaultTTL matches the 24h lifetime of both cookies
	DefaultTTL = 24 * time.Hour

	identityKey = "identity"
	issuer      = "table-bidding"
)

var ErrInvalidSession = errors.New("invalid session")

// Claims are the signed contents of a session token
type Claims struct {
	Role     models.Role `json:"role"`
	Username string      `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 session tokens
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	clock  clockwork.Clock
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithSecureCookies marks cookies Secure (HTTPS only)
func WithSecureCookies(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

func NewManager(secret string, ttl time.Duration, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("session: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{secret: []byte(secret), ttl: ttl, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs a token for a bidder or spectator identity
func (m *Manager) Issue(identity models.Identity) (string, time.Time, error) {
	switch identity.Role {
	case models.RoleBidder:
		if !identity.IsBidder() {
			return "", time.Time{}, fmt.Errorf("session: bidder without username")
		}
	case models.RoleSpectator:
	default:
		return "", time.Time{}, fmt.Errorf("session: cannot issue a %q session", identity.Role)
	}

	now := m.clock.Now().UTC()
	exp := now.Add(m.ttl)
	claims := Claims{
		Role:     identity.Role,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a token and returns the identity it carries
func (m *Manager) Parse(raw string) (models.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return models.Anonymous(), fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	switch claims.Role {
	case models.RoleBidder:
		identity := models.Bidder(claims.Subject, claims.Username)
		if !identity.IsBidder() {
			return models.Anonymous(), fmt.Errorf("%w: bidder without username", ErrInvalidSession)
		}
		return identity, nil
	case models.RoleSpectator:
		return models.Spectator(), nil
	default:
		return models.Anonymous(), fmt.Errorf("%w: unknown role %q", ErrInvalidSession, claims.Role)
	}
}

// SetCookie issues a token for identity and stores it in the matching cookie.
// A bidder login clears any spectator cookie and vice versa.
func (m *Manager) SetCookie(c *gin.Context, identity models.Identity) (time.Time, error) {
	token, exp, err := m.Issue(identity)
	if err != nil {
		return time.Time{}, err
	}

	name, other := BidderCookie, SpectatorCookie
	if identity.Role == models.RoleSpectator {
		name, other = SpectatorCookie, BidderCookie
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, token, int(m.ttl/time.Second), "/", "", m.secure, true)
	c.SetCookie(other, "", -1, "/", "", m.secure, true)
	return exp, nil
}

// ClearCookies removes both session cookies
func (m *Manager) ClearCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(BidderCookie, "", -1, "/", "", m.secure, true)
	c.SetCookie(SpectatorCookie, "", -1, "/", "", m.secure, true)
}

// Resolve attaches the request identity. A bearer token wins over cookies and
// a bidder cookie wins over a spectator cookie; anything invalid is anonymous.
func Resolve(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, m.identify(c))
		c.Next()
	}
}

func (m *Manager) identify(c *gin.Context) models.Identity {
	candidates := make([]string, 0, 3)
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		candidates = append(candidates, strings.TrimPrefix(auth, "Bearer "))
	}
	for _, name := range []string{BidderCookie, SpectatorCookie} {
		if v, err := c.Cookie(name); err == nil && v != "" {
			candidates = append(candidates, v)
		}
	}

	for _, raw := range candidates {
		if identity, err := m.Parse(raw); err == nil {
			return identity
		}
	}
	return models.Anonymous()
}

// FromContext returns the identity set by Resolve, or anonymous
func FromContext(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(models.Identity); ok {
			return identity
		}
	}
	return models.Anonymous()
}

// WithIdentity stores identity on the context; used by tests and upstream auth
func WithIdentity(c *gin.Context, identity models.Identity) {
	c.Set(identityKey, identity)
}
