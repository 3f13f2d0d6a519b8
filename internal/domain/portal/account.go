package portal

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ehr/healthassist/internal/domain/identity"
	"github.com/ehr/healthassist/internal/platform/auth"
	"github.com/ehr/healthassist/internal/platform/session"
	"github.com/ehr/healthassist/internal/platform/telemetry"
)

type signupPage struct {
	page
	Roles        []identity.Role
	FormUsername string
	FormRole     identity.Role
}

func (h *Handler) Home(c echo.Context) error {
	s := session.FromContext(c)
	if s == nil || !s.LoggedIn {
		return redirect(c, auth.LoginPath)
	}
	return redirect(c, portalPath(s.Role))
}

func (h *Handler) LoginPage(c echo.Context) error {
	if s := session.FromContext(c); s != nil && s.LoggedIn {
		return redirect(c, portalPath(s.Role))
	}
	return c.Render(http.StatusOK, pageLogin, newPage(c, "Login"))
}

func (h *Handler) Login(c echo.Context) error {
	s := session.FromContext(c)
	u, err := h.users.Authenticate(c.Request().Context(), c.FormValue("username"), c.FormValue("password"))
	if err != nil {
		h.metrics.Count(telemetry.EventLogin, "failure")
		h.flashError(c, s, err)
		return redirect(c, auth.LoginPath)
	}
	h.metrics.Count(telemetry.EventLogin, "success")

	s.Login(u.Username, string(u.Role))
	if err := h.sessions.Renew(c, s); err != nil {
		return err
	}
	return redirect(c, portalPath(s.Role))
}

func (h *Handler) SignupPage(c echo.Context) error {
	p := signupPage{
		page:         newPage(c, "Signup"),
		Roles:        []identity.Role{identity.RolePatient, identity.RoleDoctor},
		FormUsername: c.QueryParam("username"),
		FormRole:     identity.Role(c.QueryParam("role")),
	}
	if !p.FormRole.Valid() {
		p.FormRole = identity.RolePatient
	}
	return c.Render(http.StatusOK, pageSignup, p)
}

func (h *Handler) Signup(c echo.Context) error {
	s := session.FromContext(c)
	username := c.FormValue("username")
	role := identity.Role(c.FormValue("role"))

	_, err := h.users.Register(c.Request().Context(),
		username, c.FormValue("password"), c.FormValue("confirm_password"), role)
	if err != nil {
		h.metrics.Count(telemetry.EventSignup, "failure")
		h.flashError(c, s, err)
		q := url.Values{"username": {username}, "role": {string(role)}}
		return redirect(c, "/signup?"+q.Encode())
	}

	h.metrics.Count(telemetry.EventSignup, "success")
	s.AddFlash(session.FlashSuccess, "Signup successful! Please login.")
	return redirect(c, auth.LoginPath)
}

func (h *Handler) Logout(c echo.Context) error {
	if s := session.FromContext(c); s != nil {
		s.Logout()
		if err := h.sessions.Destroy(c, s); err != nil {
			return err
		}
	}
	return redirect(c, auth.LoginPath)
}
