package records

import (
	"context"
	"errors"
)

var ErrFolderNotFound = errors.New("folder not found")

// RecordRepository stores each patient's folders. Folders keep the order in
// which they were first created; records keep insertion order.
type RecordRepository interface {
	// UpsertFolder creates the folder if absent. It is idempotent on name.
	UpsertFolder(ctx context.Context, patient, folder string) error
	// Append adds r to an existing folder. It returns ErrFolderNotFound when
	// the folder has not been created.
	Append(ctx context.Context, patient, folder string, r *Record) error
	ListFolders(ctx context.Context, patient string) ([]string, error)
	ListRecords(ctx context.Context, patient, folder string) ([]*Record, error)
	ListAll(ctx context.Context, patient string) ([]*Record, error)
}
