package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

const (
	CookieName = "healthassist_session"
	contextKey = "session"
)

// Manager issues session cookies and loads sessions from them. The cookie
// holds an HS256 token whose jti is the session ID; the session data itself
// stays in the Store.
type Manager struct {
	store  Store
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
	logger zerolog.Logger
	skip   echomw.Skipper
}

type ManagerConfig struct {
	Store  Store
	Key    []byte
	TTL    time.Duration
	Secure bool
	Logger zerolog.Logger
	// Skipper marks requests that get no session, such as health checks.
	Skipper echomw.Skipper
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		store:  cfg.Store,
		key:    cfg.Key,
		ttl:    cfg.TTL,
		secure: cfg.Secure,
		now:    time.Now,
		logger: cfg.Logger,
		skip:   cfg.Skipper,
	}
}

func (m *Manager) newSession() *Session {
	now := m.now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
}

func (m *Manager) sign(s *Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// parse returns the session ID carried by a cookie value.
func (m *Manager) parse(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("token has no session id")
	}
	return claims.ID, nil
}

func (m *Manager) setCookie(c echo.Context, s *Session) error {
	token, err := m.sign(s)
	if err != nil {
		return fmt.Errorf("signing session cookie: %w", err)
	}
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Load returns the session named by the request cookie, or a new session
// (with its cookie already set) when the cookie is missing, forged, expired
// or unknown to the store.
func (m *Manager) Load(c echo.Context) (*Session, error) {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie.Value != "" {
		id, err := m.parse(cookie.Value)
		if err == nil {
			s, err := m.store.Get(c.Request().Context(), id)
			if err == nil {
				return s, nil
			}
			if !errors.Is(err, ErrSessionNotFound) {
				return nil, fmt.Errorf("loading session: %w", err)
			}
		}
	}

	s := m.newSession()
	if err := m.setCookie(c, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Renew moves the session to a fresh ID, keeping its data. Call it before
// writing the response, e.g. right after a successful login.
func (m *Manager) Renew(c echo.Context, s *Session) error {
	if err := m.store.Delete(c.Request().Context(), s.ID); err != nil {
		return fmt.Errorf("deleting old session: %w", err)
	}
	fresh := m.newSession()
	s.ID = fresh.ID
	s.CreatedAt = fresh.CreatedAt
	s.ExpiresAt = fresh.ExpiresAt
	return m.setCookie(c, s)
}

// Destroy deletes the session and clears the cookie. The middleware will not
// save it again.
func (m *Manager) Destroy(c echo.Context, s *Session) error {
	s.destroyed = true
	m.clearCookie(c)
	return m.store.Delete(c.Request().Context(), s.ID)
}

// Middleware loads the session before the handler and saves it afterwards.
// Skipped requests reach the handler without a session.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.skip != nil && m.skip(c) {
				return next(c)
			}

			s, err := m.Load(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "session unavailable").SetInternal(err)
			}
			ToContext(c, s)

			err = next(c)

			if !s.destroyed {
				if serr := m.store.Save(c.Request().Context(), s); serr != nil {
					m.logger.Error().Err(serr).Str("session_id", s.ID).Msg("failed to save session")
				}
			}
			return err
		}
	}
}

// FromContext returns the session attached by Middleware, or nil.
func FromContext(c echo.Context) *Session {
	s, _ := c.Get(contextKey).(*Session)
	return s
}

// ToContext attaches s to the request.
func ToContext(c echo.Context, s *Session) {
	c.Set(contextKey, s)
}
