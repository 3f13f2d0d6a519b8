package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ehr/healthassist/internal/domain/identity"
	"github.com/ehr/healthassist/internal/platform/auth"
	"github.com/ehr/healthassist/internal/platform/blobstore"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrForbidden         = errors.New("access denied")
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// Directory resolves users and records care-team links. *identity.Service
// satisfies it.
type Directory interface {
	GetUser(ctx context.Context, username string) (*identity.User, error)
	LinkCareTeam(ctx context.Context, doctor, patient string) error
}

// NewRecord is the add-record form after parsing.
type NewRecord struct {
	Patient     string
	Doctor      string
	Folder      string
	Treatment   string
	Medications string
	Allergies   string
	File        *Upload
}

// Upload is an attachment as received from the form.
type Upload struct {
	Name        string
	ContentType string
	Content     io.Reader
}

type Service struct {
	repo   RecordRepository
	users  Directory
	blobs  blobstore.BlobStore
	policy auth.AccessPolicy
	now    func() time.Time
}

func NewService(repo RecordRepository, users Directory, blobs blobstore.BlobStore, policy auth.AccessPolicy) *Service {
	if policy == nil {
		policy = auth.AllowAll{}
	}
	return &Service{repo: repo, users: users, blobs: blobs, policy: policy, now: time.Now}
}

// SetClock replaces the time source used for record timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CanAccess reports whether doctor may read and write patient's records.
func (s *Service) CanAccess(ctx context.Context, doctor, patient string) bool {
	return s.policy.CanAccess(ctx, doctor, patient)
}

func (s *Service) patient(ctx context.Context, username string) (*identity.User, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrPatientNotFound, username)
		}
		return nil, err
	}
	if !u.IsPatient() {
		return nil, fmt.Errorf("%w: %q", ErrPatientNotFound, username)
	}
	return u, nil
}

// AddRecord appends a new record to the patient's folder, creating the
// folder on first use. Text fields are trimmed. The attachment, if any, is
// validated and stored before the record; nothing is stored when any step
// fails.
func (s *Service) AddRecord(ctx context.Context, in NewRecord) (*Record, error) {
	folder := strings.TrimSpace(in.Folder)
	if folder == "" {
		return nil, fmt.Errorf("%w: folder name is required", ErrValidation)
	}

	if _, err := s.patient(ctx, in.Patient); err != nil {
		return nil, err
	}
	doctor, err := s.users.GetUser(ctx, in.Doctor)
	if err != nil || !doctor.IsDoctor() {
		return nil, fmt.Errorf("%w: %q is not a doctor", ErrForbidden, in.Doctor)
	}
	if !s.policy.CanAccess(ctx, in.Doctor, in.Patient) {
		return nil, fmt.Errorf("%w: %s may not write to %s", ErrForbidden, in.Doctor, in.Patient)
	}

	rec := &Record{
		ID:          uuid.New().String(),
		Doctor:      in.Doctor,
		Timestamp:   formatTimestamp(s.now()),
		Treatment:   strings.TrimSpace(in.Treatment),
		Medications: strings.TrimSpace(in.Medications),
		Allergies:   strings.TrimSpace(in.Allergies),
	}

	if in.File != nil {
		meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
			FileName:    in.File.Name,
			ContentType: in.File.ContentType,
			PatientID:   in.Patient,
			CreatedBy:   in.Doctor,
		}, in.File.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
		}
		rec.File = &Attachment{
			BlobID:      meta.ID,
			Name:        meta.FileName,
			ContentType: meta.ContentType,
			Size:        meta.Size,
		}
	}

	if err := s.store(ctx, in, folder, rec); err != nil {
		if rec.File != nil {
			_ = s.blobs.Delete(ctx, rec.File.BlobID)
		}
		return nil, err
	}
	return rec, nil
}

// store links the care team, then upserts the folder and appends rec, so a
// stored record always has its doctor on the patient's care team.
func (s *Service) store(ctx context.Context, in NewRecord, folder string, rec *Record) error {
	if err := s.users.LinkCareTeam(ctx, in.Doctor, in.Patient); err != nil {
		return fmt.Errorf("linking care team: %w", err)
	}
	if err := s.repo.UpsertFolder(ctx, in.Patient, folder); err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	if err := s.repo.Append(ctx, in.Patient, folder, rec); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	return nil
}

// ListFolders returns folder names in creation order.
func (s *Service) ListFolders(ctx context.Context, patient string) ([]string, error) {
	if _, err := s.patient(ctx, patient); err != nil {
		return nil, err
	}
	return s.repo.ListFolders(ctx, patient)
}

// ListRecords returns a folder's records, newest first.
func (s *Service) ListRecords(ctx context.Context, patient, folder string) ([]*Record, error) {
	if _, err := s.patient(ctx, patient); err != nil {
		return nil, err
	}
	recs, err := s.repo.ListRecords(ctx, patient, folder)
	if err != nil {
		return nil, err
	}
	SortNewestFirst(recs)
	return recs, nil
}

// Summarize scans every folder of the patient. At most medLimit medication
// entries are returned, newest first.
func (s *Service) Summarize(ctx context.Context, patient string, medLimit int) (*Summary, error) {
	if _, err := s.patient(ctx, patient); err != nil {
		return nil, err
	}
	all, err := s.repo.ListAll(ctx, patient)
	if err != nil {
		return nil, err
	}
	return Summarize(all, medLimit), nil
}

// OpenAttachment returns the attachment content when viewer may see it:
// patients only their own, doctors subject to the access policy.
func (s *Service) OpenAttachment(ctx context.Context, viewer *identity.User, blobID string) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	meta, err := s.blobs.GetMetadata(ctx, blobID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case viewer.IsPatient() && viewer.Username == meta.PatientID:
	case viewer.IsDoctor() && s.policy.CanAccess(ctx, viewer.Username, meta.PatientID):
	default:
		return nil, nil, ErrForbidden
	}

	return s.blobs.Download(ctx, blobID)
}

// SortNewestFirst orders records by timestamp, descending. Records with equal
// timestamps keep their relative order.
func SortNewestFirst(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp > recs[j].Timestamp
	})
}

// FilterByDoctor keeps the records written by doctor. AllDoctors and the
// empty string keep everything. The input is not modified.
func FilterByDoctor(recs []*Record, doctor string) []*Record {
	out := make([]*Record, 0, len(recs))
	for _, r := range recs {
		if doctor == "" || doctor == AllDoctors || r.Doctor == doctor {
			out = append(out, r)
		}
	}
	return out
}

// Doctors returns the distinct authors of recs, sorted.
func Doctors(recs []*Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		if !seen[r.Doctor] {
			seen[r.Doctor] = true
			out = append(out, r.Doctor)
		}
	}
	sort.Strings(out)
	return out
}

// AllergyTokens splits a comma separated allergy list into trimmed,
// title-cased tokens. Empty tokens are dropped.
func AllergyTokens(s string) []string {
	caser := cases.Title(language.Und)
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, caser.String(part))
	}
	return out
}

// Summarize derives a summary from records gathered across folders.
func Summarize(recs []*Record, medLimit int) *Summary {
	sorted := append([]*Record(nil), recs...)
	SortNewestFirst(sorted)

	sum := &Summary{
		Allergies:   []string{},
		Medications: []MedicationEntry{},
		RecordCount: len(sorted),
	}
	if len(sorted) > 0 {
		sum.LastRecordAt = sorted[0].Timestamp
	}

	seen := make(map[string]bool)
	for _, r := range sorted {
		for _, a := range AllergyTokens(r.Allergies) {
			if !seen[a] {
				seen[a] = true
				sum.Allergies = append(sum.Allergies, a)
			}
		}
		if strings.TrimSpace(r.Medications) != "" && len(sum.Medications) < medLimit {
			sum.Medications = append(sum.Medications, MedicationEntry{
				Medications: r.Medications,
				Doctor:      r.Doctor,
				Date:        r.Timestamp,
			})
		}
		if strings.TrimSpace(r.Treatment) != "" {
			sum.TreatmentCount++
		}
	}
	sort.Strings(sum.Allergies)
	return sum
}

// DefaultAllergies is the prefill for the add-record form.
func (sum *Summary) DefaultAllergies() string {
	return strings.Join(sum.Allergies, ", ")
}
