package identity

import (
	"time"
)

// Role is one of the two static roles a user registers with.
type Role string

const (
	RolePatient Role = "Patient"
	RoleDoctor  Role = "Doctor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// User is a registered account. Patients carry the doctors that have written
// to their records; doctors carry the patients they have written to. The
// medical history itself is owned by the records store, keyed by Username.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Patients     []string  `json:"patients,omitempty"`
	Doctors      []string  `json:"doctors,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) IsPatient() bool { return u.Role == RolePatient }

func (u *User) IsDoctor() bool { return u.Role == RoleDoctor }

// clone returns a copy whose slices do not alias the original.
func (u *User) clone() *User {
	out := *u
	out.Patients = append([]string(nil), u.Patients...)
	out.Doctors = append([]string(nil), u.Doctors...)
	return &out
}
