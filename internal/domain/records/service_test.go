package records

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/healthassist/internal/domain/identity"
	"github.com/ehr/healthassist/internal/platform/auth"
	"github.com/ehr/healthassist/internal/platform/blobstore"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

type fixture struct {
	svc   *Service
	users *identity.Service
	blobs *blobstore.InMemoryBlobStore
	clock time.Time
}

func newFixture(t *testing.T, policy auth.AccessPolicy) *fixture {
	t.Helper()
	users := identity.NewService(identity.NewUserRepoMemory())
	users.SetHashCost(bcrypt.MinCost)
	ctx := context.Background()
	for _, u := range []struct {
		name string
		role identity.Role
	}{
		{"alice", identity.RolePatient},
		{"bob", identity.RolePatient},
		{"house", identity.RoleDoctor},
		{"wilson", identity.RoleDoctor},
	} {
		if _, err := users.Register(ctx, u.name, "password123", "password123", u.role); err != nil {
			t.Fatalf("register %s: %v", u.name, err)
		}
	}

	f := &fixture{
		users: users,
		blobs: blobstore.NewInMemoryBlobStore(0),
		clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(NewRecordRepoMemory(), users, f.blobs, policy)
	f.svc.SetClock(func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	})
	return f
}

func (f *fixture) add(t *testing.T, in NewRecord) *Record {
	t.Helper()
	if in.Patient == "" {
		in.Patient = "alice"
	}
	if in.Doctor == "" {
		in.Doctor = "house"
	}
	rec, err := f.svc.AddRecord(context.Background(), in)
	if err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	return rec
}

func TestAddRecord_CreatesFolderAndAppends(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rec := f.add(t, NewRecord{Folder: "Checkups", Treatment: "Rest"})
	if rec.ID == "" || rec.Timestamp == "" {
		t.Fatalf("expected id and timestamp, got %+v", rec)
	}
	if rec.Timestamp != "2024-03-01 09:01:00.000000" {
		t.Errorf("unexpected timestamp format %q", rec.Timestamp)
	}

	folders, err := f.svc.ListFolders(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(folders) != 1 || folders[0] != "Checkups" {
		t.Errorf("expected [Checkups], got %v", folders)
	}

	recs, _ := f.svc.ListRecords(ctx, "alice", "Checkups")
	if len(recs) != 1 || recs[0].Treatment != "Rest" || recs[0].File != nil {
		t.Errorf("unexpected records %+v", recs)
	}

	// Other patients are unaffected.
	if folders, _ := f.svc.ListFolders(ctx, "bob"); len(folders) != 0 {
		t.Errorf("expected bob to have no folders, got %v", folders)
	}
}

func TestAddRecord_LinksCareTeamOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, NewRecord{Folder: "A"})
	f.add(t, NewRecord{Folder: "B"})

	p, _ := f.users.GetUser(context.Background(), "alice")
	if len(p.Doctors) != 1 || p.Doctors[0] != "house" {
		t.Errorf("expected doctors [house], got %v", p.Doctors)
	}
}

func TestAddRecord_FolderOrderAndTrim(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, NewRecord{Folder: "Labs"})
	f.add(t, NewRecord{Folder: "  Checkups "})
	f.add(t, NewRecord{Folder: "Labs"})

	folders, _ := f.svc.ListFolders(context.Background(), "alice")
	if strings.Join(folders, ",") != "Labs,Checkups" {
		t.Errorf("expected [Labs Checkups], got %v", folders)
	}
}

func TestRecordRepoMemory_UpsertFolderThenAppend(t *testing.T) {
	repo := NewRecordRepoMemory()
	ctx := context.Background()

	if err := repo.Append(ctx, "alice", "Imaging", &Record{ID: "r1"}); !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("expected ErrFolderNotFound before upsert, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := repo.UpsertFolder(ctx, "alice", "Imaging"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	folders, _ := repo.ListFolders(ctx, "alice")
	if len(folders) != 1 {
		t.Errorf("expected one folder, got %v", folders)
	}
	recs, err := repo.ListRecords(ctx, "alice", "Imaging")
	if err != nil || len(recs) != 0 {
		t.Errorf("expected empty folder, got %v, %v", recs, err)
	}

	if err := repo.Append(ctx, "alice", "Imaging", &Record{ID: "r1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.UpsertFolder(ctx, "alice", "Imaging"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recs, _ := repo.ListRecords(ctx, "alice", "Imaging"); len(recs) != 1 {
		t.Errorf("expected upsert to keep existing records, got %d", len(recs))
	}
}

type failingLinks struct {
	Directory
}

func (failingLinks) LinkCareTeam(context.Context, string, string) error {
	return errors.New("directory unavailable")
}

func TestAddRecord_LinkFailureStoresNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.svc = NewService(NewRecordRepoMemory(), failingLinks{f.users}, f.blobs, nil)
	ctx := context.Background()

	_, err := f.svc.AddRecord(ctx, NewRecord{
		Patient: "alice",
		Doctor:  "house",
		Folder:  "Labs",
		File:    &Upload{Name: "blood.pdf", Content: bytes.NewReader(pdfBytes)},
	})
	if err == nil {
		t.Fatal("expected error when the care team cannot be linked")
	}
	if folders, _ := f.svc.ListFolders(ctx, "alice"); len(folders) != 0 {
		t.Errorf("expected no folders, got %v", folders)
	}
	if blobs, _ := f.blobs.ListByPatient(ctx, "alice"); len(blobs) != 0 {
		t.Errorf("expected attachment to be removed, got %d", len(blobs))
	}
}

func TestAddRecord_TrimsTextFields(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.add(t, NewRecord{
		Folder:      "Labs",
		Treatment:   "   ",
		Medications: "\tIbuprofen \n",
		Allergies:   " \n ",
	})
	if rec.Treatment != "" || rec.Medications != "Ibuprofen" || rec.Allergies != "" {
		t.Errorf("expected trimmed fields, got %+v", rec)
	}

	sum, _ := f.svc.Summarize(context.Background(), "alice", 3)
	if sum.TreatmentCount != 0 || len(sum.Allergies) != 0 {
		t.Errorf("expected blank fields to be ignored, got %+v", sum)
	}
}

func TestAddRecord_Rejects(t *testing.T) {
	deny := auth.PolicyFunc(func(_ context.Context, doctor, patient string) bool {
		return patient != "bob"
	})

	tests := []struct {
		name string
		in   NewRecord
		want error
	}{
		{"empty folder", NewRecord{Patient: "alice", Doctor: "house", Folder: "  "}, ErrValidation},
		{"unknown patient", NewRecord{Patient: "carol", Doctor: "house", Folder: "A"}, ErrPatientNotFound},
		{"doctor as patient", NewRecord{Patient: "wilson", Doctor: "house", Folder: "A"}, ErrPatientNotFound},
		{"patient as doctor", NewRecord{Patient: "alice", Doctor: "bob", Folder: "A"}, ErrForbidden},
		{"policy denies", NewRecord{Patient: "bob", Doctor: "house", Folder: "A"}, ErrForbidden},
		{"bad extension", NewRecord{Patient: "alice", Doctor: "house", Folder: "A",
			File: &Upload{Name: "notes.txt", Content: strings.NewReader("hello")}}, ErrInvalidAttachment},
		{"corrupt pdf", NewRecord{Patient: "alice", Doctor: "house", Folder: "A",
			File: &Upload{Name: "report.pdf", Content: strings.NewReader("not a pdf")}}, ErrInvalidAttachment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, deny)
			ctx := context.Background()
			_, err := f.svc.AddRecord(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			for _, p := range []string{"alice", "bob"} {
				if folders, _ := f.svc.ListFolders(ctx, p); len(folders) != 0 {
					t.Errorf("expected nothing stored for %s, got %v", p, folders)
				}
				if blobs, _ := f.blobs.ListByPatient(ctx, p); len(blobs) != 0 {
					t.Errorf("expected no blobs for %s, got %d", p, len(blobs))
				}
			}
		})
	}
}

func TestAddRecord_WithAttachment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rec := f.add(t, NewRecord{
		Folder: "Labs",
		File:   &Upload{Name: "blood.pdf", ContentType: "application/pdf", Content: bytes.NewReader(pdfBytes)},
	})
	if rec.File == nil || rec.File.Name != "blood.pdf" || !rec.File.IsPDF() || rec.File.IsImage() {
		t.Fatalf("unexpected attachment %+v", rec.File)
	}
	if rec.File.Size != int64(len(pdfBytes)) {
		t.Errorf("expected size %d, got %d", len(pdfBytes), rec.File.Size)
	}

	alice, _ := f.users.GetUser(ctx, "alice")
	rc, meta, err := f.svc.OpenAttachment(ctx, alice, rec.File.BlobID)
	if err != nil {
		t.Fatalf("patient could not open own attachment: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(data, pdfBytes) || meta.FileName != "blood.pdf" {
		t.Errorf("unexpected attachment content or metadata")
	}
}

func TestOpenAttachment_Access(t *testing.T) {
	onlyAlice := auth.PolicyFunc(func(_ context.Context, doctor, patient string) bool {
		return doctor == "house"
	})
	f := newFixture(t, onlyAlice)
	ctx := context.Background()

	rec := f.add(t, NewRecord{
		Folder: "Labs",
		File:   &Upload{Name: "blood.pdf", Content: bytes.NewReader(pdfBytes)},
	})

	bob, _ := f.users.GetUser(ctx, "bob")
	if _, _, err := f.svc.OpenAttachment(ctx, bob, rec.File.BlobID); !errors.Is(err, ErrForbidden) {
		t.Errorf("other patient: expected ErrForbidden, got %v", err)
	}
	wilson, _ := f.users.GetUser(ctx, "wilson")
	if _, _, err := f.svc.OpenAttachment(ctx, wilson, rec.File.BlobID); !errors.Is(err, ErrForbidden) {
		t.Errorf("denied doctor: expected ErrForbidden, got %v", err)
	}
	house, _ := f.users.GetUser(ctx, "house")
	rc, _, err := f.svc.OpenAttachment(ctx, house, rec.File.BlobID)
	if err != nil {
		t.Fatalf("allowed doctor: unexpected error %v", err)
	}
	rc.Close()
	if _, _, err := f.svc.OpenAttachment(ctx, house, "missing"); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestListRecords_NewestFirstAndCount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Clock jumps around so insertion order is not chronological.
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	f.svc.SetClock(func() time.Time {
		return base.Add(time.Duration(rng.Intn(100000)) * time.Second)
	})

	const n = 25
	for i := 0; i < n; i++ {
		f.add(t, NewRecord{Folder: "Visits", Treatment: "visit"})
	}
	f.add(t, NewRecord{Folder: "Other"})

	recs, err := f.svc.ListRecords(ctx, "alice", "Visits")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != n {
		t.Fatalf("expected %d records, got %d", n, len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].Timestamp < recs[i].Timestamp {
			t.Fatalf("records not newest first at %d: %s < %s", i, recs[i-1].Timestamp, recs[i].Timestamp)
		}
	}

	if _, err := f.svc.ListRecords(ctx, "alice", "Nope"); !errors.Is(err, ErrFolderNotFound) {
		t.Errorf("expected ErrFolderNotFound, got %v", err)
	}
}

func TestListRecords_ReturnsCopies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, NewRecord{Folder: "A", Treatment: "Rest"})

	recs, _ := f.svc.ListRecords(ctx, "alice", "A")
	recs[0].Treatment = "tampered"

	again, _ := f.svc.ListRecords(ctx, "alice", "A")
	if again[0].Treatment != "Rest" {
		t.Errorf("stored record was mutated: %q", again[0].Treatment)
	}
}

func TestSummarize_Allergies(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, NewRecord{Folder: "A", Allergies: "peanuts, Dust"})
	f.add(t, NewRecord{Folder: "B", Allergies: "Peanuts, pollen"})

	sum, err := f.svc.Summarize(context.Background(), "alice", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Dust", "Peanuts", "Pollen"}
	if strings.Join(sum.Allergies, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, sum.Allergies)
	}
	if sum.DefaultAllergies() != "Dust, Peanuts, Pollen" {
		t.Errorf("unexpected default allergies %q", sum.DefaultAllergies())
	}
}

func TestSummarize_MedicationsAndTreatments(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, NewRecord{Folder: "A", Medications: "Aspirin", Treatment: "Rest"})
	f.add(t, NewRecord{Folder: "B", Medications: "Ibuprofen", Doctor: "wilson"})
	f.add(t, NewRecord{Folder: "A", Treatment: "Fluids"})
	f.add(t, NewRecord{Folder: "C", Medications: "Paracetamol"})
	f.add(t, NewRecord{Folder: "A", Medications: "Amoxicillin", Treatment: "   "})

	sum, _ := f.svc.Summarize(context.Background(), "alice", 3)

	var meds []string
	for _, m := range sum.Medications {
		meds = append(meds, m.Medications)
	}
	if strings.Join(meds, ",") != "Amoxicillin,Paracetamol,Ibuprofen" {
		t.Errorf("expected three newest medications, got %v", meds)
	}
	if sum.Medications[2].Doctor != "wilson" {
		t.Errorf("expected prescribing doctor wilson, got %s", sum.Medications[2].Doctor)
	}
	if sum.TreatmentCount != 2 {
		t.Errorf("expected 2 treatments, got %d", sum.TreatmentCount)
	}
	if sum.RecordCount != 5 {
		t.Errorf("expected 5 records, got %d", sum.RecordCount)
	}
	if sum.LastRecordAt != "2024-03-01 09:05:00.000000" {
		t.Errorf("unexpected last record time %q", sum.LastRecordAt)
	}
}

func TestSummarize_Empty(t *testing.T) {
	f := newFixture(t, nil)
	sum, err := f.svc.Summarize(context.Background(), "alice", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sum.Allergies) != 0 || len(sum.Medications) != 0 || sum.LastRecordAt != "" {
		t.Errorf("expected empty summary, got %+v", sum)
	}
	if _, err := f.svc.Summarize(context.Background(), "house", 3); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound for a doctor, got %v", err)
	}
}

func TestFilterByDoctor(t *testing.T) {
	recs := []*Record{
		{ID: "1", Doctor: "house"},
		{ID: "2", Doctor: "wilson"},
		{ID: "3", Doctor: "house"},
	}

	if got := FilterByDoctor(recs, AllDoctors); len(got) != 3 {
		t.Errorf("All: expected 3, got %d", len(got))
	}
	if got := FilterByDoctor(recs, ""); len(got) != 3 {
		t.Errorf("empty: expected 3, got %d", len(got))
	}
	got := FilterByDoctor(recs, "house")
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("house: unexpected %+v", got)
	}
	if got := FilterByDoctor(recs, "cuddy"); len(got) != 0 {
		t.Errorf("cuddy: expected none, got %d", len(got))
	}
	if len(recs) != 3 || recs[1].ID != "2" {
		t.Error("input was modified")
	}
}

func TestDoctors(t *testing.T) {
	recs := []*Record{{Doctor: "wilson"}, {Doctor: "house"}, {Doctor: "wilson"}}
	if got := Doctors(recs); strings.Join(got, ",") != "house,wilson" {
		t.Errorf("expected [house wilson], got %v", got)
	}
}

func TestAllergyTokens(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" peanut butter , DUST,, shellfish ", "Peanut Butter|Dust|Shellfish"},
		{"  ,  , ", ""},
		// An apostrophe does not start a new word.
		{"o'neil's syndrome", "O'neil's Syndrome"},
	}

	for _, tt := range tests {
		got := AllergyTokens(tt.in)
		if strings.Join(got, "|") != tt.want {
			t.Errorf("AllergyTokens(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}
}
