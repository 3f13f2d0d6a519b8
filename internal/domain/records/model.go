package records

import (
	"time"
)

// TimestampLayout renders creation times so that string order is
// chronological order.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// AllDoctors is the doctor filter value that keeps every record.
const AllDoctors = "All"

// Record is one immutable clinical entry in a patient's folder.
type Record struct {
	ID          string      `json:"id"`
	Doctor      string      `json:"doctor"`
	Timestamp   string      `json:"timestamp"`
	Treatment   string      `json:"treatment,omitempty"`
	Medications string      `json:"medications,omitempty"`
	Allergies   string      `json:"allergies,omitempty"`
	File        *Attachment `json:"file,omitempty"`
}

// Attachment points at the blob holding an uploaded report.
type Attachment struct {
	BlobID      string `json:"blob_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func (a *Attachment) IsImage() bool {
	return a.ContentType == "image/png" || a.ContentType == "image/jpeg"
}

func (a *Attachment) IsPDF() bool {
	return a.ContentType == "application/pdf"
}

// Summary aggregates every record across a patient's folders.
type Summary struct {
	Allergies      []string
	Medications    []MedicationEntry
	TreatmentCount int
	RecordCount    int
	LastRecordAt   string
}

// MedicationEntry is a prescription line shown in a summary.
type MedicationEntry struct {
	Medications string
	Doctor      string
	Date        string
}

func formatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
