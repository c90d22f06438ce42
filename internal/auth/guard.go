package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrAuthNotRequired    = errors.New("no password is configured")
)

const (
	// CookieName carries the session token for browser clients.
	CookieName = "slipdock_session"

	// DefaultSessionTTL applies when no TTL is configured.
	DefaultSessionTTL = 24 * time.Hour

	tokenIssuer = "slipdock"
)

// Claims are the JWT claims of a session token. Only the registered set is
// used; the token ID keys the revocation store.
type Claims struct {
	jwt.RegisteredClaims
}

// Guard is the password gate in front of every browse, download and
// mutating route. With no password configured the gate is open: every
// request counts as pre-authenticated and login/logout are no-ops. With a
// password, a successful login issues an HS256 session token whose ID is
// tracked in an in-memory store so logout revokes it immediately.
type Guard struct {
	required     bool
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	sessions     *sessionStore
	logger       zerolog.Logger
}

// NewGuard hashes the configured password (held only as the bcrypt hash from
// here on) and wires the signing secret. An empty password means open mode.
func NewGuard(password string, secret []byte, ttl time.Duration, logger zerolog.Logger) (*Guard, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	g := &Guard{
		secret:   secret,
		ttl:      ttl,
		sessions: newSessionStore(),
		logger:   logger.With().Str("component", "auth").Logger(),
	}

	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		g.required = true
		g.passwordHash = hash
	}
	return g, nil
}

// Required reports whether a password gate is configured.
func (g *Guard) Required() bool {
	return g.required
}

// Login checks the password and issues a session token. The bcrypt compare
// is constant-time, so a wrong password costs the same as a right one.
func (g *Guard) Login(password string) (token string, expiresAt time.Time, err error) {
	if !g.required {
		return "", time.Time{}, ErrAuthNotRequired
	}
	if err := bcrypt.CompareHashAndPassword(g.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	id := uuid.NewString()
	expiresAt = time.Now().Add(g.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	g.sessions.add(id, expiresAt)
	g.logger.Info().Str("session", id).Time("expiresAt", expiresAt).Msg("session issued")
	return token, expiresAt, nil
}

// Validate checks a presented token. In open mode every request passes,
// token or not. Every failure collapses to ErrUnauthenticated so callers
// can't learn anything else from the response.
func (g *Guard) Validate(token string) error {
	if !g.required {
		return nil
	}
	claims, err := g.parse(token)
	if err != nil {
		return ErrUnauthenticated
	}
	if !g.sessions.alive(claims.ID) {
		return ErrUnauthenticated
	}
	return nil
}

// Logout revokes the session behind a token. Invalid tokens are a no-op;
// logout never fails.
func (g *Guard) Logout(token string) {
	if !g.required || token == "" {
		return
	}
	claims, err := g.parse(token)
	if err != nil {
		return
	}
	g.sessions.revoke(claims.ID)
	g.logger.Info().Str("session", claims.ID).Msg("session revoked")
}

// SweepExpired evicts expired entries from the session store. Run from the
// maintenance schedule; expired tokens already fail Validate via the JWT
// expiry, this just reclaims the memory.
func (g *Guard) SweepExpired() int {
	return g.sessions.sweep(time.Now())
}

// ActiveSessions reports the number of live sessions.
func (g *Guard) ActiveSessions() int {
	return g.sessions.count()
}

func (g *Guard) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
