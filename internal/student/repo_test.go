package student

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	q := regexp.QuoteMeta("INSERT INTO students")
	mock.ExpectExec(q).WithArgs("S1", "n", "e", "h").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("S1", "n", "e", "h").WillReturnResult(sqlmock.NewResult(0, 0))

	st := Student{StudentID: "S1", Name: "n", Email: "e", PasswordHash: "h"}
	require.NoError(t, repo.Create(context.Background(), st))
	assert.ErrorIs(t, repo.Create(context.Background(), st), ErrExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	q := regexp.QuoteMeta("FROM students WHERE student_id = $1")
	cols := []string{"student_id", "name", "email", "password_hash", "face_reference", "section"}
	mock.ExpectQuery(q).WithArgs("S1").WillReturnRows(sqlmock.NewRows(cols).AddRow("S1", "Ann", "a@x", "h", nil, "CSE"))
	mock.ExpectQuery(q).WithArgs("S2").WillReturnRows(sqlmock.NewRows(cols))

	st, err := repo.Get(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, &Student{StudentID: "S1", Name: "Ann", Email: "a@x", PasswordHash: "h", Section: "CSE"}, st)

	st, err = repo.Get(context.Background(), "S2")
	require.NoError(t, err)
	assert.Nil(t, st)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSwapPasswordHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	q := regexp.QuoteMeta("WHERE student_id = $1 AND password_hash = $2")
	mock.ExpectExec(q).WithArgs("S1", "old", "new").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SwapPasswordHash(context.Background(), "S1", "old", "new")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateProfilePassesNilsThrough(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	section := "CSE-B"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students")).
		WithArgs("S1", nil, nil, "CSE-B", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateProfile(context.Background(), "S1", ProfileUpdate{Section: &section})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateProfileClearsSection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("section = CASE WHEN $5 THEN NULL")).
		WithArgs("S1", nil, nil, nil, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := NewPostgresRepository(db).UpdateProfile(context.Background(), "S1", ProfileUpdate{ClearSection: true})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
