package auth

import "context"

// AccessPolicy decides whether a doctor may read and write a patient's
// records.
type AccessPolicy interface {
	CanAccess(ctx context.Context, doctor, patient string) bool
}

// AllowAll lets every authenticated doctor access every patient.
type AllowAll struct{}

func (AllowAll) CanAccess(context.Context, string, string) bool { return true }

// PolicyFunc adapts a function to AccessPolicy.
type PolicyFunc func(ctx context.Context, doctor, patient string) bool

func (f PolicyFunc) CanAccess(ctx context.Context, doctor, patient string) bool {
	return f(ctx, doctor, patient)
}
