package attendance

import (
	"context"
	"encoding/json"
	"log"

	"faceattend/internal/queue"
)

// EventSink stores audit events.
type EventSink interface {
	InsertEvent(ctx context.Context, evt Event) (Event, error)
}

// Record drains q into sink until ctx is done or the queue closes. A message
// that cannot be decoded or stored is logged and skipped. It returns the
// number of events stored.
func Record(ctx context.Context, q queue.Queue, sink EventSink) (int, error) {
	messages, err := q.Consume(ctx)
	if err != nil {
		return 0, err
	}
	stored := 0
	for msg := range messages {
		if msg.Type != EventMarked && msg.Type != EventEnrolled {
			log.Printf("recorder: skipping unknown message type %q", msg.Type)
			continue
		}
		var evt Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("recorder: undecodable %s event: %v", msg.Type, err)
			continue
		}
		evt.Type = msg.Type
		saved, err := sink.InsertEvent(ctx, evt)
		if err != nil {
			log.Printf("recorder: store event %s failed: %v", evt.ID, err)
			continue
		}
		stored++
		log.Printf("recorder: stored %s for %s (%s)", saved.Type, saved.StudentID, saved.ID)
	}
	return stored, nil
}
