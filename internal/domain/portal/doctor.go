package portal

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/healthassist/internal/domain/records"
	"github.com/ehr/healthassist/internal/platform/session"
	"github.com/ehr/healthassist/internal/platform/telemetry"
)

const (
	doctorPath = "/doctor"

	folderModeExisting = "existing"
	folderModeNew      = "new"
)

type doctorPage struct {
	page
	Patients         []string
	Patient          string
	CanAccess        bool
	Summary          *records.Summary
	Folders          []string
	Folder           string
	Records          []*records.Record
	Doctors          []string
	DoctorFilter     string
	AllDoctors       string
	DefaultAllergies string
}

// DoctorPortal shows one patient at a time, chosen with ?patient=, and one of
// that patient's folders, chosen with ?folder= and filtered with ?doctor=.
// Missing or unknown choices fall back to the first entry.
func (h *Handler) DoctorPortal(c echo.Context) error {
	ctx := c.Request().Context()
	s := session.FromContext(c)

	patients, err := h.users.ListPatients(ctx)
	if err != nil {
		return err
	}

	p := doctorPage{
		page:         newPage(c, "Doctor Portal"),
		Patients:     patients,
		AllDoctors:   records.AllDoctors,
		DoctorFilter: records.AllDoctors,
	}
	if len(patients) == 0 {
		return c.Render(http.StatusOK, pageDoctor, p)
	}

	p.Patient = pick(patients, c.QueryParam("patient"))
	p.CanAccess = h.records.CanAccess(ctx, s.Username, p.Patient)
	if !p.CanAccess {
		return c.Render(http.StatusOK, pageDoctor, p)
	}

	if p.Summary, err = h.records.Summarize(ctx, p.Patient, h.medLimit); err != nil {
		return err
	}
	p.DefaultAllergies = p.Summary.DefaultAllergies()

	if p.Folders, err = h.records.ListFolders(ctx, p.Patient); err != nil {
		return err
	}
	if len(p.Folders) > 0 {
		p.Folder = pick(p.Folders, c.QueryParam("folder"))
		recs, err := h.records.ListRecords(ctx, p.Patient, p.Folder)
		if err != nil {
			return err
		}
		p.Doctors = records.Doctors(recs)
		if d := c.QueryParam("doctor"); contains(p.Doctors, d) {
			p.DoctorFilter = d
		}
		p.Records = records.FilterByDoctor(recs, p.DoctorFilter)
	}

	return c.Render(http.StatusOK, pageDoctor, p)
}

// AddRecord handles the multipart add-record form.
func (h *Handler) AddRecord(c echo.Context) error {
	s := session.FromContext(c)

	form, err := c.MultipartForm()
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		s.AddFlash(session.FlashError, "Could not read the submitted form")
		return redirect(c, doctorPath)
	}

	patient := formValue(form, "patient")
	in := records.NewRecord{
		Patient:     patient,
		Doctor:      s.Username,
		Folder:      formValue(form, "folder"),
		Allergies:   formValue(form, "allergies"),
		Medications: formValue(form, "medications"),
		Treatment:   formValue(form, "treatment"),
	}
	if formValue(form, "folder_mode") == folderModeNew {
		in.Folder = formValue(form, "new_folder")
	}

	back := url.Values{"patient": {patient}}

	if files := form.File["file"]; len(files) > 0 && files[0].Filename != "" {
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			s.AddFlash(session.FlashError, "Invalid attachment: the uploaded file could not be read")
			return redirect(c, doctorPath+"?"+back.Encode())
		}
		defer f.Close()
		in.File = &records.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Content:     f,
		}
	}

	rec, err := h.records.AddRecord(c.Request().Context(), in)
	if err != nil {
		h.metrics.Count(telemetry.EventRecord, "failure")
		h.flashError(c, s, err)
		return redirect(c, doctorPath+"?"+back.Encode())
	}
	h.metrics.Count(telemetry.EventRecord, "success")

	folder := strings.TrimSpace(in.Folder)
	h.logger.Info().
		Str("record_id", rec.ID).
		Str("doctor", in.Doctor).
		Str("patient", in.Patient).
		Msg("record added")

	s.AddFlash(session.FlashSuccess, "Record added to '"+folder+"' successfully")
	back.Set("folder", folder)
	return redirect(c, doctorPath+"?"+back.Encode())
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// pick returns want when it is one of options, otherwise the first option.
func pick(options []string, want string) string {
	if contains(options, want) {
		return want
	}
	return options[0]
}
