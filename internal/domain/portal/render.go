package portal

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// StaticPrefix is where the embedded stylesheet is served.
const StaticPrefix = "/static"

// Page template names.
const (
	pageLogin   = "login"
	pageSignup  = "signup"
	pagePatient = "patient"
	pageDoctor  = "doctor"
)

// Renderer renders full pages: the shared layout plus one page template.
type Renderer struct {
	pages map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{pageLogin, pageSignup, pagePatient, pageDoctor} {
		t, err := template.New("layout.html").ParseFS(templateFS,
			"templates/layout.html",
			"templates/record.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return t.ExecuteTemplate(w, "layout", data)
}
