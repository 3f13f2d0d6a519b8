package portal

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"github.com/labstack/echo/v4"

	"github.com/ehr/healthassist/internal/domain/identity"
	"github.com/ehr/healthassist/internal/domain/records"
	"github.com/ehr/healthassist/internal/platform/blobstore"
	"github.com/ehr/healthassist/internal/platform/session"
	"github.com/ehr/healthassist/internal/platform/telemetry"
)

// Attachment streams a record attachment. It is shown inline unless
// ?download=1 is given.
func (h *Handler) Attachment(c echo.Context) error {
	ctx := c.Request().Context()
	s := session.FromContext(c)

	viewer, err := h.users.GetUser(ctx, s.Username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusForbidden, "unknown user")
		}
		return err
	}

	rc, meta, err := h.records.OpenAttachment(ctx, viewer, c.Param("id"))
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "attachment not found")
	case errors.Is(err, records.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case err != nil:
		return err
	}
	defer rc.Close()

	disposition := "inline"
	if c.QueryParam("download") == "1" {
		disposition = "attachment"
	}
	h.metrics.Count(telemetry.EventAttachment, disposition)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("%s; filename=%q", disposition, downloadName(meta.FileName)))
	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprint(meta.Size))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// downloadName turns an uploaded file name into a safe ASCII name that keeps
// its extension, e.g. "Blood Test (März).pdf" becomes "blood-test-marz.pdf".
func downloadName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := slug.Make(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if base == "" {
		base = "attachment"
	}
	return base + ext
}
