package records

import (
	"context"
	"sync"
)

type history struct {
	folders map[string][]*Record
	order   []string
}

// RecordRepoMemory keeps medical histories in process memory.
type RecordRepoMemory struct {
	mu        sync.RWMutex
	histories map[string]*history
}

func NewRecordRepoMemory() *RecordRepoMemory {
	return &RecordRepoMemory{histories: make(map[string]*history)}
}

func (r *RecordRepoMemory) UpsertFolder(_ context.Context, patient, folder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histories[patient]
	if !ok {
		h = &history{folders: make(map[string][]*Record)}
		r.histories[patient] = h
	}
	if _, ok := h.folders[folder]; !ok {
		h.folders[folder] = nil
		h.order = append(h.order, folder)
	}
	return nil
}

func (r *RecordRepoMemory) Append(_ context.Context, patient, folder string, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histories[patient]
	if !ok {
		return ErrFolderNotFound
	}
	recs, ok := h.folders[folder]
	if !ok {
		return ErrFolderNotFound
	}
	h.folders[folder] = append(recs, copyRecords([]*Record{rec})...)
	return nil
}

func (r *RecordRepoMemory) ListFolders(_ context.Context, patient string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histories[patient]
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, h.order...), nil
}

func (r *RecordRepoMemory) ListRecords(_ context.Context, patient, folder string) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histories[patient]
	if !ok {
		return nil, ErrFolderNotFound
	}
	recs, ok := h.folders[folder]
	if !ok {
		return nil, ErrFolderNotFound
	}
	return copyRecords(recs), nil
}

func (r *RecordRepoMemory) ListAll(_ context.Context, patient string) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histories[patient]
	if !ok {
		return []*Record{}, nil
	}
	var out []*Record
	for _, name := range h.order {
		out = append(out, copyRecords(h.folders[name])...)
	}
	return out, nil
}

// copyRecords hands out copies so callers cannot mutate stored records.
func copyRecords(in []*Record) []*Record {
	out := make([]*Record, 0, len(in))
	for _, r := range in {
		c := *r
		if r.File != nil {
			f := *r.File
			c.File = &f
		}
		out = append(out, &c)
	}
	return out
}
