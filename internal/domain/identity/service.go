package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrValidation is returned for signup input that cannot be accepted.
	ErrValidation = errors.New("validation failed")
	// ErrAuth is returned for an unknown username or a wrong password. The
	// two cases are deliberately indistinguishable to the caller.
	ErrAuth = errors.New("invalid credentials")
)

type Service struct {
	users UserRepository
	cost  int
	now   func() time.Time
}

func NewService(users UserRepository) *Service {
	return &Service{users: users, cost: bcrypt.DefaultCost, now: time.Now}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) SetHashCost(cost int) {
	s.cost = cost
}

// Register creates a user after validating the signup form. Nothing is stored
// when validation fails.
func (s *Service) Register(ctx context.Context, username, password, confirm string, role Role) (*User, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "" || password == "":
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	case password != confirm:
		return nil, fmt.Errorf("%w: passwords don't match", ErrValidation)
	case len(password) < MinPasswordLength:
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	case !role.Valid():
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%w: username already exists", ErrValidation)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password is too long", ErrValidation)
		}
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	switch role {
	case RolePatient:
		u.Doctors = []string{}
	case RoleDoctor:
		u.Patients = []string{}
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, fmt.Errorf("%w: username already exists", ErrValidation)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// Authenticate checks the password against the stored hash.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrAuth
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrAuth
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, username)
}

// ListPatients returns patient usernames in registration order.
func (s *Service) ListPatients(ctx context.Context) ([]string, error) {
	patients, err := s.users.ListByRole(ctx, RolePatient)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(patients))
	for _, p := range patients {
		names = append(names, p.Username)
	}
	return names, nil
}

// LinkCareTeam records that doctor has written to patient's records. Both
// sides are kept free of duplicates.
func (s *Service) LinkCareTeam(ctx context.Context, doctor, patient string) error {
	d, err := s.users.GetByUsername(ctx, doctor)
	if err != nil {
		return fmt.Errorf("doctor %q: %w", doctor, err)
	}
	p, err := s.users.GetByUsername(ctx, patient)
	if err != nil {
		return fmt.Errorf("patient %q: %w", patient, err)
	}
	if !d.IsDoctor() {
		return fmt.Errorf("%w: %q is not a doctor", ErrValidation, doctor)
	}
	if !p.IsPatient() {
		return fmt.Errorf("%w: %q is not a patient", ErrValidation, patient)
	}

	if !slices.Contains(p.Doctors, doctor) {
		p.Doctors = append(p.Doctors, doctor)
		if err := s.users.Update(ctx, p); err != nil {
			return fmt.Errorf("updating patient: %w", err)
		}
	}
	if !slices.Contains(d.Patients, patient) {
		d.Patients = append(d.Patients, patient)
		if err := s.users.Update(ctx, d); err != nil {
			return fmt.Errorf("updating doctor: %w", err)
		}
	}
	return nil
}
