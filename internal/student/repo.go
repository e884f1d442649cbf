package student

import (
	"context"
	"database/sql"
	"errors"
)

// ErrExists is returned by Create when the student id is taken.
var ErrExists = errors.New("student already exists")

// Student is a registered student record.
type Student struct {
	StudentID     string
	Name          string
	Email         string
	PasswordHash  string
	FaceReference string
	Section       string
}

// ProfileUpdate carries the fields to change; nil fields are left untouched.
// ClearSection removes the section and wins over Section.
type ProfileUpdate struct {
	Name         *string
	Email        *string
	Section      *string
	ClearSection bool
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Section == nil && !u.ClearSection
}

// Repository persists students. Every mutation is a single atomic statement;
// callers never read-then-write.
type Repository interface {
	Create(ctx context.Context, st Student) error
	Get(ctx context.Context, studentID string) (*Student, error)
	UpdateProfile(ctx context.Context, studentID string, u ProfileUpdate) (bool, error)
	SwapPasswordHash(ctx context.Context, studentID, oldHash, newHash string) (bool, error)
	SetFaceReference(ctx context.Context, studentID, reference string) (bool, error)
	Names(ctx context.Context, studentIDs []string) (map[string]string, error)
}

// PostgresRepository persists students in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a student unless the id already exists.
func (r *PostgresRepository) Create(ctx context.Context, st Student) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO students (student_id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id) DO NOTHING
	`, st.StudentID, st.Name, st.Email, st.PasswordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

// Get returns a student by id, or nil when absent.
func (r *PostgresRepository) Get(ctx context.Context, studentID string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, name, email, password_hash, face_reference, section
		FROM students WHERE student_id = $1
	`, studentID)
	var (
		st        Student
		reference sql.NullString
		section   sql.NullString
	)
	if err := row.Scan(&st.StudentID, &st.Name, &st.Email, &st.PasswordHash, &reference, &section); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.FaceReference = reference.String
	st.Section = section.String
	return &st, nil
}

// UpdateProfile applies the non-nil fields of u.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, studentID string, u ProfileUpdate) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET name = COALESCE($2, name),
			email = COALESCE($3, email),
			section = CASE WHEN $5 THEN NULL ELSE COALESCE($4, section) END,
			updated_at = NOW()
		WHERE student_id = $1
	`, studentID, nullable(u.Name), nullable(u.Email), nullable(u.Section), u.ClearSection)
	return affected(res, err)
}

// SwapPasswordHash replaces the hash only if it still equals oldHash.
func (r *PostgresRepository) SwapPasswordHash(ctx context.Context, studentID, oldHash, newHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET password_hash = $3, updated_at = NOW()
		WHERE student_id = $1 AND password_hash = $2
	`, studentID, oldHash, newHash)
	return affected(res, err)
}

// SetFaceReference replaces the enrolled reference.
func (r *PostgresRepository) SetFaceReference(ctx context.Context, studentID, reference string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET face_reference = $2, updated_at = NOW()
		WHERE student_id = $1
	`, studentID, reference)
	return affected(res, err)
}

// Names resolves display names for the given ids. Unknown ids are omitted.
func (r *PostgresRepository) Names(ctx context.Context, studentIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(studentIDs))
	if len(studentIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT student_id, name FROM students WHERE student_id = ANY($1)`, studentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
