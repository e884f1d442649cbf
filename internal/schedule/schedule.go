// Package schedule stores per-section timetables and resolves them for
// students through their assigned section.
package schedule

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"faceattend/internal/apperr"
	"faceattend/internal/student"
)

// Schedule is a section's timetable. The payload is opaque to the service.
type Schedule struct {
	Section  string          `json:"section"`
	Schedule json.RawMessage `json:"schedule"`
}

// Repository persists schedules keyed by section.
type Repository interface {
	Put(ctx context.Context, section string, payload json.RawMessage) error
	Get(ctx context.Context, section string) (json.RawMessage, error)
}

// Students looks up the student whose schedule is requested.
type Students interface {
	Get(ctx context.Context, studentID string) (*student.Student, error)
}

// Service administers and resolves schedules.
type Service struct {
	repo     Repository
	students Students
}

// NewService creates a schedule service.
func NewService(repo Repository, students Students) *Service {
	return &Service{repo: repo, students: students}
}

// Put replaces the schedule of a section wholesale.
func (s *Service) Put(ctx context.Context, section string, payload json.RawMessage) error {
	section = strings.TrimSpace(section)
	if section == "" {
		return apperr.Validation("section is required")
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return apperr.Validation("schedule must be a JSON object")
	}
	if err := s.repo.Put(ctx, section, trimmed); err != nil {
		return apperr.Persistence("save schedule", err)
	}
	return nil
}

// Get returns the schedule of a section.
func (s *Service) Get(ctx context.Context, section string) (Schedule, error) {
	section = strings.TrimSpace(section)
	if section == "" {
		return Schedule{}, apperr.Validation("section is required")
	}
	payload, err := s.repo.Get(ctx, section)
	if err != nil {
		return Schedule{}, apperr.Persistence("load schedule", err)
	}
	if payload == nil {
		return Schedule{}, apperr.NotFound(apperr.CodeNoSchedule, "No schedule found for this section")
	}
	return Schedule{Section: section, Schedule: payload}, nil
}

// ForStudent resolves a student's schedule through their section. A student
// without a section and a section without a schedule are distinct failures.
func (s *Service) ForStudent(ctx context.Context, studentID string) (Schedule, error) {
	st, err := s.students.Get(ctx, studentID)
	if err != nil {
		return Schedule{}, apperr.Persistence("load student", err)
	}
	if st == nil {
		return Schedule{}, apperr.NotFound(apperr.CodeNotFound, "Student not found")
	}
	if strings.TrimSpace(st.Section) == "" {
		return Schedule{}, apperr.NotFound(apperr.CodeNoSection, "No section assigned to this student")
	}
	return s.Get(ctx, st.Section)
}

// PostgresRepository stores schedules as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Put upserts the section's schedule.
func (r *PostgresRepository) Put(ctx context.Context, section string, payload json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (section, payload)
		VALUES ($1, $2)
		ON CONFLICT (section) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = NOW()
	`, section, string(payload))
	return err
}

// Get returns the section's schedule, or nil when absent.
func (r *PostgresRepository) Get(ctx context.Context, section string) (json.RawMessage, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload::text FROM schedules WHERE section = $1`, section).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

// MemoryRepository keeps schedules in process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	schedules map[string]json.RawMessage
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{schedules: make(map[string]json.RawMessage)}
}

func (r *MemoryRepository) Put(_ context.Context, section string, payload json.RawMessage) error {
	cp := append(json.RawMessage(nil), payload...)
	r.mu.Lock()
	r.schedules[section] = cp
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, section string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.schedules[section]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), p...), nil
}
