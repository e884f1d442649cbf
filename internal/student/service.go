package student

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"faceattend/internal/apperr"
	"faceattend/internal/metrics"
)

// Hasher is the one-way password hash used for credentials.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
}

// Issuer issues session tokens for authenticated students.
type Issuer interface {
	Issue(studentID string) (string, time.Time, error)
}

// Profile is the outward view of a student; credentials and the face
// reference are never part of it.
type Profile struct {
	StudentID string  `json:"studentId"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Section   *string `json:"section"`
}

// Registration is the input of Register.
type Registration struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Session is a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service handles registration, login and profile maintenance.
type Service struct {
	repo    Repository
	hasher  Hasher
	tokens  Issuer
	metrics *metrics.Registry
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, hasher Hasher, tokens Issuer, m *metrics.Registry) *Service {
	return &Service{repo: repo, hasher: hasher, tokens: tokens, metrics: m}
}

// Register creates a student. A duplicate id is a conflict and leaves the
// existing record untouched.
func (s *Service) Register(ctx context.Context, in Registration) error {
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.StudentID == "" || in.Name == "" || in.Email == "" || in.Password == "" {
		return apperr.Validation("Missing data")
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, apperr.CodePersistence, "Registration failed", err)
	}
	err = s.repo.Create(ctx, Student{
		StudentID:    in.StudentID,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, ErrExists) {
		return apperr.Conflict("User already exists")
	}
	if err != nil {
		return apperr.Persistence("create student", err)
	}
	return nil
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, studentID, password string) (Session, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" || password == "" {
		return Session{}, apperr.Validation("Missing studentId or password")
	}
	st, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return Session{}, apperr.Persistence("load student", err)
	}
	if st == nil {
		s.metrics.Login("not_found")
		return Session{}, apperr.NotFound(apperr.CodeNotFound, "User not found")
	}
	ok, err := s.hasher.Compare(st.PasswordHash, password)
	if err != nil {
		log.Printf("password compare failed for %s: %v", studentID, err)
	}
	if !ok {
		s.metrics.Login("bad_credentials")
		return Session{}, apperr.Auth(apperr.CodeBadCredentials, "Invalid credentials")
	}
	token, exp, err := s.tokens.Issue(st.StudentID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.KindPersistence, apperr.CodePersistence, "token issue failed", err)
	}
	s.metrics.Login("ok")
	return Session{Token: token, ExpiresAt: exp}, nil
}

// Profile returns the identity fields of a student.
func (s *Service) Profile(ctx context.Context, studentID string) (Profile, error) {
	st, err := s.get(ctx, studentID)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{StudentID: st.StudentID, Name: st.Name, Email: st.Email}
	if st.Section != "" {
		section := st.Section
		p.Section = &section
	}
	return p, nil
}

// UpdateProfile applies a partial update restricted to name, email and
// section. Other keys are dropped; an update with nothing left is rejected.
// A null section un-assigns the student.
func (s *Service) UpdateProfile(ctx context.Context, studentID string, fields map[string]interface{}) error {
	var u ProfileUpdate
	for key, raw := range fields {
		var target **string
		switch key {
		case "name":
			target = &u.Name
		case "email":
			target = &u.Email
		case "section":
			target = &u.Section
		default:
			continue
		}
		if raw == nil && key == "section" {
			u.ClearSection = true
			continue
		}
		v, ok := raw.(string)
		if !ok {
			return apperr.Validation(key + " must be a string")
		}
		v = strings.TrimSpace(v)
		*target = &v
	}
	if u.Empty() {
		return apperr.Validation("No valid fields to update")
	}
	if (u.Name != nil && *u.Name == "") || (u.Email != nil && *u.Email == "") {
		return apperr.Validation("name and email cannot be empty")
	}
	ok, err := s.repo.UpdateProfile(ctx, studentID, u)
	if err != nil {
		return apperr.Persistence("update profile", err)
	}
	if !ok {
		return apperr.NotFound(apperr.CodeNotFound, "Profile not found")
	}
	return nil
}

// ChangePassword replaces the password hash after re-checking the current
// password. The stored hash is swapped only if it is still the one that was
// verified.
func (s *Service) ChangePassword(ctx context.Context, studentID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperr.Validation("oldPassword and newPassword are required")
	}
	st, err := s.get(ctx, studentID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Compare(st.PasswordHash, oldPassword)
	if err != nil {
		log.Printf("password compare failed for %s: %v", studentID, err)
	}
	if !ok {
		return apperr.Auth(apperr.CodeBadCredentials, "Current password is incorrect")
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, apperr.CodePersistence, "hash password failed", err)
	}
	swapped, err := s.repo.SwapPasswordHash(ctx, studentID, st.PasswordHash, hash)
	if err != nil {
		return apperr.Persistence("update password", err)
	}
	if !swapped {
		return apperr.Auth(apperr.CodeBadCredentials, "Current password is incorrect")
	}
	return nil
}

// HasFaceData reports whether the student has an enrolled face reference.
// A missing student simply has none.
func (s *Service) HasFaceData(ctx context.Context, studentID string) (bool, error) {
	st, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return false, apperr.Persistence("load student", err)
	}
	return st != nil && st.FaceReference != "", nil
}

func (s *Service) get(ctx context.Context, studentID string) (*Student, error) {
	st, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return nil, apperr.Persistence("load student", err)
	}
	if st == nil {
		return nil, apperr.NotFound(apperr.CodeNotFound, "Profile not found")
	}
	return st, nil
}
