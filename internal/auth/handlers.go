package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// AttemptRecorder observes login outcomes so repeated wrong passwords from
// one address can be locked out.
type AttemptRecorder interface {
	RecordFailure(ip string)
	RecordSuccess(ip string)
}

// Handlers provides the login/logout/status HTTP surface.
type Handlers struct {
	guard    *Guard
	recorder AttemptRecorder
	validate *validator.Validate
}

// NewHandlers creates auth handlers over a guard.
func NewHandlers(guard *Guard) *Handlers {
	return &Handlers{guard: guard, validate: validator.New()}
}

// SetAttemptRecorder wires brute-force tracking into the login flow.
func (h *Handlers) SetAttemptRecorder(r AttemptRecorder) {
	h.recorder = r
}

// RegisterRoutes registers the auth routes. Login and status stay public;
// logout is harmless without a session and stays public too. loginMW is
// applied to the login route only (rate limiting).
func (h *Handlers) RegisterRoutes(g *echo.Group, loginMW ...echo.MiddlewareFunc) {
	g.POST("/login", h.Login, loginMW...)
	g.POST("/logout", h.Logout)
	g.GET("/status", h.Status)
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login handles POST /api/v1/auth/login.
func (h *Handlers) Login(c echo.Context) error {
	if !h.guard.Required() {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"required":      false,
			"authenticated": true,
		})
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "password is required")
	}

	token, expiresAt, err := h.guard.Login(req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			if h.recorder != nil {
				h.recorder.RecordFailure(c.RealIP())
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	if h.recorder != nil {
		h.recorder.RecordSuccess(c.RealIP())
	}

	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// Logout handles POST /api/v1/auth/logout.
func (h *Handlers) Logout(c echo.Context) error {
	h.guard.Logout(ExtractToken(c))

	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

// Status handles GET /api/v1/auth/status.
func (h *Handlers) Status(c echo.Context) error {
	authenticated := true
	if h.guard.Required() {
		authenticated = h.guard.Validate(ExtractToken(c)) == nil
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"required":      h.guard.Required(),
		"authenticated": authenticated,
	})
}
