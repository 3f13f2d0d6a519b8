// Package portal serves the server-rendered UI: login and signup, the
// patient and doctor portals, and attachment downloads. Every form post
// redirects back to a GET page; outcomes travel in the session flash.
package portal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/healthassist/internal/domain/identity"
	"github.com/ehr/healthassist/internal/domain/records"
	"github.com/ehr/healthassist/internal/domain/symptom"
	"github.com/ehr/healthassist/internal/platform/auth"
	"github.com/ehr/healthassist/internal/platform/blobstore"
	"github.com/ehr/healthassist/internal/platform/session"
)

// Metrics counts portal events. *telemetry.Provider satisfies it.
type Metrics interface {
	Count(event, label string)
}

type nopMetrics struct{}

func (nopMetrics) Count(string, string) {}

// Predictor maps free symptom text to a condition label.
type Predictor interface {
	Predict(text string) (string, error)
}

type Config struct {
	Users      *identity.Service
	Records    *records.Service
	Classifier Predictor
	Sessions   *session.Manager
	Metrics    Metrics
	Logger     zerolog.Logger
	// MedicationSummarySize caps the medications listed in the patient
	// summary.
	MedicationSummarySize int
}

type Handler struct {
	users      *identity.Service
	records    *records.Service
	classifier Predictor
	sessions   *session.Manager
	metrics    Metrics
	logger     zerolog.Logger
	medLimit   int
}

func NewHandler(cfg Config) *Handler {
	medLimit := cfg.MedicationSummarySize
	if medLimit <= 0 {
		medLimit = 3
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handler{
		users:      cfg.Users,
		records:    cfg.Records,
		classifier: cfg.Classifier,
		sessions:   cfg.Sessions,
		metrics:    metrics,
		logger:     cfg.Logger,
		medLimit:   medLimit,
	}
}

// RegisterRoutes mounts the portal. The session middleware must already be
// installed on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.StaticFS(StaticPrefix, echo.MustSubFS(staticFS, "static"))

	e.GET("/", h.Home)
	e.GET("/login", h.LoginPage)
	e.POST("/login", h.Login)
	e.GET("/signup", h.SignupPage)
	e.POST("/signup", h.Signup)
	e.POST("/logout", h.Logout)

	patient := e.Group("/patient", auth.RequireRole(string(identity.RolePatient)))
	patient.GET("", h.PatientPortal)
	patient.POST("/analyze", h.Analyze)
	patient.POST("/folders/select", h.SelectFolder)

	doctor := e.Group("/doctor", auth.RequireRole(string(identity.RoleDoctor)))
	doctor.GET("", h.DoctorPortal)
	doctor.POST("/records", h.AddRecord)

	e.GET("/attachments/:id", h.Attachment, auth.RequireLogin())
}

// page is the data every template receives.
type page struct {
	Title    string
	Username string
	Role     string
	LoggedIn bool
	Flash    *session.Flash
	CSRF     string
}

func newPage(c echo.Context, title string) page {
	p := page{Title: title}
	if s := session.FromContext(c); s != nil {
		p.Username = s.Username
		p.Role = s.Role
		p.LoggedIn = s.LoggedIn
		p.Flash = s.PopFlash()
	}
	p.CSRF, _ = c.Get(echomw.DefaultCSRFConfig.ContextKey).(string)
	return p
}

// portalPath is the landing page for a role.
func portalPath(role string) string {
	switch identity.Role(role) {
	case identity.RolePatient:
		return "/patient"
	case identity.RoleDoctor:
		return "/doctor"
	}
	return auth.LoginPath
}

func redirect(c echo.Context, path string) error {
	return c.Redirect(http.StatusSeeOther, path)
}

// flashError stores a user-facing message for err. Errors the user cannot
// act on are logged and replaced with a generic message.
func (h *Handler) flashError(c echo.Context, s *session.Session, err error) {
	s.AddFlash(session.FlashError, h.userMessage(c, err))
}

func (h *Handler) userMessage(c echo.Context, err error) string {
	switch {
	case errors.Is(err, identity.ErrAuth):
		return "Invalid credentials."
	case errors.Is(err, symptom.ErrInput):
		return "Please enter your symptoms"
	case errors.Is(err, identity.ErrValidation):
		return detail(err, identity.ErrValidation)
	case errors.Is(err, records.ErrValidation):
		return detail(err, records.ErrValidation)
	case errors.Is(err, records.ErrInvalidAttachment),
		errors.Is(err, records.ErrPatientNotFound),
		errors.Is(err, records.ErrForbidden),
		errors.Is(err, blobstore.ErrBlobNotFound):
		return capitalize(err.Error())
	}

	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
	return "Something went wrong. Please try again."
}

// detail strips the sentinel prefix from a wrapped error message.
func detail(err, sentinel error) string {
	return capitalize(strings.TrimPrefix(err.Error(), sentinel.Error()+": "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// HTTPErrorHandler answers errors that escape the handlers with plain text.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).Msg("unhandled error")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.String(code, msg)
	}
}
