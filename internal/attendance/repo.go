package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostgresLedger persists attendance marks in Postgres. The (day, student_id)
// primary key makes Mark an insert-if-absent.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Mark adds studentID to date's set.
func (l *PostgresLedger) Mark(ctx context.Context, date, studentID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO attendance_marks (day, student_id)
		VALUES ($1, $2)
		ON CONFLICT (day, student_id) DO NOTHING
	`, date, studentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsMarked reports membership of studentID in date's set.
func (l *PostgresLedger) IsMarked(ctx context.Context, date, studentID string) (bool, error) {
	var marked bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance_marks WHERE day = $1 AND student_id = $2)
	`, date, studentID).Scan(&marked)
	return marked, err
}

// Attendees returns date's set in marking order.
func (l *PostgresLedger) Attendees(ctx context.Context, date string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT student_id FROM attendance_marks
		WHERE day = $1
		ORDER BY marked_at, student_id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// History returns every day, most recent first.
func (l *PostgresLedger) History(ctx context.Context) ([]Day, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT day, student_id FROM attendance_marks
		ORDER BY day DESC, marked_at, student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	days := []Day{}
	for rows.Next() {
		var date, id string
		if err := rows.Scan(&date, &id); err != nil {
			return nil, err
		}
		if n := len(days); n == 0 || days[n-1].Date != date {
			days = append(days, Day{Date: date})
		}
		days[len(days)-1].StudentIDs = append(days[len(days)-1].StudentIDs, id)
	}
	return days, rows.Err()
}

// Event is an audit record of an attendance or enrollment outcome.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	StudentID  string    `json:"studentId"`
	Date       string    `json:"date,omitempty"`
	FrameIndex *int      `json:"frameIndex,omitempty"`
	Distance   *float64  `json:"distance,omitempty"`
	When       time.Time `json:"when"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Event types.
const (
	EventMarked   = "attendance.marked"
	EventEnrolled = "face.enrolled"
)

// EventRepository persists audit events in Postgres.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a repo.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertEvent writes a new event. Redelivered events with a known id are ignored.
func (r *EventRepository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.When.IsZero() {
		evt.When = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_events (id, type, student_id, day, frame_index, distance, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING created_at
	`, evt.ID, evt.Type, evt.StudentID, evt.Date, evt.FrameIndex, evt.Distance, evt.When)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// ListEvents returns events, newest first, optionally for one student.
func (r *EventRepository) ListEvents(ctx context.Context, studentID string, limit, offset int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, type, student_id, day, frame_index, distance, occurred_at, created_at FROM attendance_events`
	args := []any{}
	clauses := []string{}
	if studentID != "" {
		args = append(args, studentID)
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Event{}
	for rows.Next() {
		var (
			evt   Event
			frame sql.NullInt64
			dist  sql.NullFloat64
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.StudentID, &evt.Date, &frame, &dist, &evt.When, &evt.CreatedAt); err != nil {
			return nil, err
		}
		if frame.Valid {
			f := int(frame.Int64)
			evt.FrameIndex = &f
		}
		if dist.Valid {
			d := dist.Float64
			evt.Distance = &d
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
