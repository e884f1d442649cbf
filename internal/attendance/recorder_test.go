package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/queue"
)

type sink struct {
	mu     sync.Mutex
	events []Event
	fail   string
	done   chan struct{}
	want   int
}

func (s *sink) InsertEvent(_ context.Context, evt Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.ID == s.fail {
		return Event{}, errors.New("insert failed")
	}
	s.events = append(s.events, evt)
	if len(s.events) == s.want {
		close(s.done)
	}
	return evt, nil
}

func TestRecordStoresKnownEvents(t *testing.T) {
	q := queue.NewInMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publish := func(typ string, body string) {
		require.NoError(t, q.Publish(ctx, queue.Message{Type: typ, Body: json.RawMessage(body)}))
	}
	publish(EventMarked, `{"id":"a","studentId":"S1","date":"2024-01-02","frameIndex":0}`)
	publish("checkin", `{"id":"x"}`)
	publish(EventEnrolled, `not json`)
	publish(EventEnrolled, `{"id":"bad","studentId":"S3"}`)
	publish(EventEnrolled, `{"id":"b","studentId":"S2"}`)

	s := &sink{fail: "bad", done: make(chan struct{}), want: 2}
	result := make(chan int, 1)
	go func() {
		n, err := Record(ctx, q, s)
		assert.NoError(t, err)
		result <- n
	}()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not recorded")
	}
	cancel()
	assert.Equal(t, 2, <-result)

	require.Len(t, s.events, 2)
	assert.Equal(t, EventMarked, s.events[0].Type)
	require.NotNil(t, s.events[0].FrameIndex)
	assert.Equal(t, "S2", s.events[1].StudentID)
	assert.Equal(t, EventEnrolled, s.events[1].Type)
}
