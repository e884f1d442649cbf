package attendance

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()

	ids, err := l.Attendees(ctx, "2024-01-02")
	require.NoError(t, err)
	assert.Empty(t, ids)

	added, err := l.Mark(ctx, "2024-01-02", "S1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.Mark(ctx, "2024-01-02", "S1")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = l.Mark(ctx, "2024-01-02", "S2")
	require.NoError(t, err)
	_, err = l.Mark(ctx, "2024-01-01", "S2")
	require.NoError(t, err)
	_, err = l.Mark(ctx, "2024-01-10", "S3")
	require.NoError(t, err)

	marked, err := l.IsMarked(ctx, "2024-01-02", "S1")
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = l.IsMarked(ctx, "2024-01-01", "S1")
	require.NoError(t, err)
	assert.False(t, marked)

	ids, err = l.Attendees(ctx, "2024-01-02")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"S1", "S2"}, ids)

	days, err := l.History(ctx)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, "2024-01-10", days[0].Date)
	assert.Equal(t, "2024-01-02", days[1].Date)
	assert.Equal(t, "2024-01-01", days[2].Date)
	assert.ElementsMatch(t, []string{"S1", "S2"}, days[1].StudentIDs)
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemoryLedger())
}

func TestMemoryLedgerConcurrentMarks(t *testing.T) {
	l := NewMemoryLedger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Mark(context.Background(), "2024-01-02", []string{"A", "B"}[i%2])
		}(i)
	}
	wg.Wait()
	ids, _ := l.Attendees(context.Background(), "2024-01-02")
	assert.ElementsMatch(t, []string{"A", "B"}, ids)
}

func TestRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLedger(client, "")
	exerciseLedger(t, l)
	assert.True(t, mr.Exists("attendance:day:2024-01-02"))
	assert.True(t, mr.Exists("attendance:days"))
}

func TestRedisLedgerRejectsBadDate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewRedisLedger(client, "t").Mark(context.Background(), "14/03/2024", "S1")
	assert.Error(t, err)
}

func TestPostgresLedgerMark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	insert := regexp.QuoteMeta("INSERT INTO attendance_marks (day, student_id)")
	mock.ExpectExec(insert).WithArgs("2024-01-02", "S1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("2024-01-02", "S1").WillReturnResult(sqlmock.NewResult(0, 0))

	l := NewPostgresLedger(db)
	added, err := l.Mark(context.Background(), "2024-01-02", "S1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.Mark(context.Background(), "2024-01-02", "S1")
	require.NoError(t, err)
	assert.False(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerHistoryGroupsDays(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"day", "student_id"}).
		AddRow("2024-01-02", "S1").
		AddRow("2024-01-02", "S2").
		AddRow("2024-01-01", "S2")
	mock.ExpectQuery("SELECT day, student_id FROM attendance_marks").WillReturnRows(rows)

	days, err := NewPostgresLedger(db).History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Day{
		{Date: "2024-01-02", StudentIDs: []string{"S1", "S2"}},
		{Date: "2024-01-01", StudentIDs: []string{"S2"}},
	}, days)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	idx, dist := 1, 0.3
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_events")).
		WithArgs("evt-1", EventMarked, "S1", "2024-01-02", &idx, &dist, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	repo := NewEventRepository(db)
	evt, err := repo.InsertEvent(context.Background(), Event{
		ID: "evt-1", Type: EventMarked, StudentID: "S1", Date: "2024-01-02", FrameIndex: &idx, Distance: &dist,
	})
	require.NoError(t, err)
	assert.Equal(t, created, evt.CreatedAt)
	assert.False(t, evt.When.IsZero())

	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_events WHERE student_id = $1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("S1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "student_id", "day", "frame_index", "distance", "occurred_at", "created_at"}).
			AddRow("evt-1", EventMarked, "S1", "2024-01-02", int64(1), 0.3, created, created).
			AddRow("evt-0", EventEnrolled, "S1", "", nil, nil, created, created))

	events, err := repo.ListEvents(context.Background(), "S1", 0, -5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].FrameIndex)
	assert.Equal(t, 1, *events[0].FrameIndex)
	assert.Nil(t, events[1].FrameIndex)
	assert.Nil(t, events[1].Distance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
