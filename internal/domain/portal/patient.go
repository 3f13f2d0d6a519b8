package portal

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/healthassist/internal/domain/records"
	"github.com/ehr/healthassist/internal/platform/session"
	"github.com/ehr/healthassist/internal/platform/telemetry"
)

const patientPath = "/patient"

type patientPage struct {
	page
	Summary        *records.Summary
	Analysis       *session.Analysis
	Folders        []string
	SelectedFolder string
	Records        []*records.Record
}

func (h *Handler) PatientPortal(c echo.Context) error {
	ctx := c.Request().Context()
	s := session.FromContext(c)

	summary, err := h.records.Summarize(ctx, s.Username, h.medLimit)
	if err != nil {
		return err
	}
	folders, err := h.records.ListFolders(ctx, s.Username)
	if err != nil {
		return err
	}

	p := patientPage{
		page:     newPage(c, "Patient Portal"),
		Summary:  summary,
		Analysis: s.PopAnalysis(),
		Folders:  folders,
	}

	if s.SelectedFolder != "" && contains(folders, s.SelectedFolder) {
		p.SelectedFolder = s.SelectedFolder
		p.Records, err = h.records.ListRecords(ctx, s.Username, s.SelectedFolder)
		if err != nil {
			return err
		}
	}

	return c.Render(http.StatusOK, pagePatient, p)
}

// Analyze runs the symptom classifier. The result is shown once on the next
// render of the portal.
func (h *Handler) Analyze(c echo.Context) error {
	s := session.FromContext(c)
	input := c.FormValue("symptoms")

	condition, err := h.classifier.Predict(input)
	if err != nil {
		h.flashError(c, s, err)
		return redirect(c, patientPath)
	}

	h.metrics.Count(telemetry.EventPrediction, condition)
	s.Analysis = &session.Analysis{Input: strings.TrimSpace(input), Condition: condition}
	s.AddFlash(session.FlashSuccess, "Analysis Complete")
	return redirect(c, patientPath)
}

func (h *Handler) SelectFolder(c echo.Context) error {
	s := session.FromContext(c)
	folder := c.FormValue("folder")

	folders, err := h.records.ListFolders(c.Request().Context(), s.Username)
	if err != nil {
		return err
	}
	if !contains(folders, folder) {
		s.AddFlash(session.FlashError, "Folder not found")
		return redirect(c, patientPath)
	}

	s.SelectedFolder = folder
	return redirect(c, patientPath)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
