package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/artha/internal/datasource"
	"github.com/mohammad-safakhou/artha/internal/runtime"
)

// Authenticator proves a phone number against the data provider.
type Authenticator interface {
	Authenticate(ctx context.Context, subject string) (*datasource.Session, error)
}

type AuthHandler struct {
	Provider     Authenticator
	Secret       []byte
	TokenTTL     time.Duration
	SecureCookie bool
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/login", a.login)
	g.POST("/logout", a.logout)
}

// Login
//
//	@Summary		Login
//	@Description	Logs the phone number into the data provider and returns a JWT in cookie and body
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		LoginRequest	true	"Login payload"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		401		{object}	HTTPError
//	@Failure		502		{object}	HTTPError
//	@Router			/api/auth/login [post]
func (a *AuthHandler) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone required")
	}
	if _, err := a.Provider.Authenticate(c.Request().Context(), phone); err != nil {
		var authErr *datasource.AuthError
		if errors.As(err, &authErr) && authErr.Kind == datasource.AuthRejected {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "data provider unavailable")
	}
	ttl := a.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	signed, err := runtime.SignJWT(phone, a.Secret, ttl)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	cookie := new(http.Cookie)
	cookie.Name = "auth"
	cookie.Value = signed
	cookie.Path = "/"
	cookie.HttpOnly = true
	cookie.SameSite = http.SameSiteLaxMode
	cookie.Secure = a.SecureCookie
	c.SetCookie(cookie)
	// also return token for Bearer flows
	c.Response().Header().Set("Authorization", "Bearer "+signed)
	return c.JSON(http.StatusOK, TokenResponse{Token: signed})
}

// Logout
//
//	@Summary	Logout
//	@Tags		auth
//	@Success	200	{string}	string	"OK"
//	@Router		/api/auth/logout [post]
func (a *AuthHandler) logout(c echo.Context) error {
	cookie := new(http.Cookie)
	cookie.Name = "auth"
	cookie.Value = ""
	cookie.Path = "/"
	cookie.MaxAge = -1
	c.SetCookie(cookie)
	return c.NoContent(http.StatusOK)
}

func userID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}
