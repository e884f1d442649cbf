package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/apperr"
	"faceattend/internal/faceclient"
	"faceattend/internal/liveness"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
	"faceattend/internal/student"
)

// UnknownName is shown for ledger ids with no matching student record.
const UnknownName = "Unknown"

// Engine is the face recognition capability: analysis for enrollment and
// 1:1 verification against a stored reference.
type Engine interface {
	Analyze(ctx context.Context, image string) (*faceclient.Analysis, error)
	Verify(ctx context.Context, reference, probe string) (*faceclient.Verification, error)
}

// Students is the slice of the credential store attendance needs.
type Students interface {
	Get(ctx context.Context, studentID string) (*student.Student, error)
	SetFaceReference(ctx context.Context, studentID, reference string) (bool, error)
	Names(ctx context.Context, studentIDs []string) (map[string]string, error)
}

// Publisher receives audit events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Attendee is a resolved ledger entry.
type Attendee struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
}

// DayView is one resolved history entry.
type DayView struct {
	Date     string     `json:"date"`
	Students []Attendee `json:"students"`
}

// Mark is the outcome of a successful verification.
type Mark struct {
	Date          string  `json:"date"`
	AlreadyMarked bool    `json:"alreadyMarked"`
	FrameIndex    int     `json:"frameIndex"`
	Distance      float64 `json:"distance"`
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	EngineTimeout time.Duration
	Location      *time.Location
	Now           func() time.Time
	Events        Publisher
	Metrics       *metrics.Registry
}

// Service coordinates enrollment, verification and the attendance ledger.
// It keeps no per-request state; concurrent calls share only the stores.
type Service struct {
	students      Students
	ledger        Ledger
	engine        Engine
	events        Publisher
	metrics       *metrics.Registry
	engineTimeout time.Duration
	loc           *time.Location
	now           func() time.Time
}

// NewService creates a service.
func NewService(students Students, ledger Ledger, engine Engine, opts Options) *Service {
	s := &Service{
		students:      students,
		ledger:        ledger,
		engine:        engine,
		events:        opts.Events,
		metrics:       opts.Metrics,
		engineTimeout: opts.EngineTimeout,
		loc:           opts.Location,
		now:           opts.Now,
	}
	if s.engineTimeout <= 0 {
		s.engineTimeout = 60 * time.Second
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Today returns the ledger key for the current server date.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

// Enroll replaces the student's face reference with the first frame once the
// burst passes the replay check and the engine accepts the frame. On any
// failure the stored reference is untouched.
func (s *Service) Enroll(ctx context.Context, studentID string, frames []string) error {
	if err := s.checkFrames(frames); err != nil {
		s.metrics.Enrollment("rejected")
		return err
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.engineTimeout)
	_, err := s.engine.Analyze(callCtx, frames[0])
	cancel()
	s.metrics.ObserveEngine("analyze", start)
	if err != nil {
		log.Printf("enrollment analysis failed for %s: %v", studentID, err)
		s.metrics.Enrollment("engine_failed")
		return apperr.Wrap(apperr.KindBiometric, apperr.CodeEnrollmentFailed, "Enrollment failed: "+err.Error(), err)
	}

	ok, err := s.students.SetFaceReference(ctx, studentID, frames[0])
	if err != nil {
		s.metrics.Enrollment("store_failed")
		return apperr.Persistence("store face reference", err)
	}
	if !ok {
		s.metrics.Enrollment("not_found")
		return apperr.NotFound(apperr.CodeNotFound, "Student not found")
	}
	s.metrics.Enrollment("ok")
	s.publish(ctx, Event{Type: EventEnrolled, StudentID: studentID})
	return nil
}

// VerifyAndMark compares the live frames against the enrolled reference in
// order and marks today's attendance on the first match.
func (s *Service) VerifyAndMark(ctx context.Context, studentID string, frames []string) (Mark, error) {
	if err := s.checkFrames(frames); err != nil {
		s.metrics.Verification("rejected")
		return Mark{}, err
	}

	st, err := s.students.Get(ctx, studentID)
	if err != nil {
		return Mark{}, apperr.Persistence("load student", err)
	}
	if st == nil || st.FaceReference == "" {
		s.metrics.Verification("no_enrollment")
		return Mark{}, apperr.NotFound(apperr.CodeNoEnrollment, "No face data found for this student")
	}

	match := -1
	var distance float64
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return Mark{}, apperr.Wrap(apperr.KindBiometric, apperr.CodeComparisonFailed, "Comparison aborted", err)
		}
		v, err := s.verify(ctx, st.FaceReference, frame)
		if err != nil {
			log.Printf("verification failed for %s on frame %d: %v", studentID, i, err)
			if faceclient.IsProbeFailure(err) {
				s.metrics.Verification("no_match")
				return Mark{}, apperr.Wrap(apperr.KindBiometric, apperr.CodeNoMatch, "Face does not match or is a spoof", err)
			}
			s.metrics.Verification("engine_failed")
			return Mark{}, apperr.Wrap(apperr.KindBiometric, apperr.CodeComparisonFailed, "Comparison failed: "+err.Error(), err)
		}
		if v.Verified {
			match, distance = i, v.Distance
			break
		}
	}
	if match < 0 {
		s.metrics.Verification("no_match")
		return Mark{}, apperr.New(apperr.KindBiometric, apperr.CodeNoMatch, "Face does not match or is a spoof")
	}

	date := s.Today()
	added, err := s.ledger.Mark(ctx, date, studentID)
	if err != nil {
		s.metrics.Verification("store_failed")
		return Mark{}, apperr.Persistence("mark attendance", err)
	}
	if added {
		s.metrics.Verification("marked")
		idx, dist := match, distance
		s.publish(ctx, Event{Type: EventMarked, StudentID: studentID, Date: date, FrameIndex: &idx, Distance: &dist})
	} else {
		s.metrics.Verification("already_marked")
	}
	return Mark{Date: date, AlreadyMarked: !added, FrameIndex: match, Distance: distance}, nil
}

// IsMarkedToday reports whether the student is in today's set.
func (s *Service) IsMarkedToday(ctx context.Context, studentID string) (bool, error) {
	marked, err := s.ledger.IsMarked(ctx, s.Today(), studentID)
	if err != nil {
		return false, apperr.Persistence("check attendance", err)
	}
	return marked, nil
}

// TodaysAttendees resolves today's set to names. No record yet is an empty list.
func (s *Service) TodaysAttendees(ctx context.Context) (string, []Attendee, error) {
	date := s.Today()
	ids, err := s.ledger.Attendees(ctx, date)
	if err != nil {
		return date, nil, apperr.Persistence("load attendance", err)
	}
	names, err := s.students.Names(ctx, ids)
	if err != nil {
		return date, nil, apperr.Persistence("resolve names", err)
	}
	return date, resolve(ids, names), nil
}

// History returns every recorded day, most recent first, with names resolved
// at query time.
func (s *Service) History(ctx context.Context) ([]DayView, error) {
	days, err := s.ledger.History(ctx)
	if err != nil {
		return nil, apperr.Persistence("load history", err)
	}
	var all []string
	for _, d := range days {
		all = append(all, d.StudentIDs...)
	}
	names, err := s.students.Names(ctx, all)
	if err != nil {
		return nil, apperr.Persistence("resolve names", err)
	}
	out := make([]DayView, 0, len(days))
	for _, d := range days {
		out = append(out, DayView{Date: d.Date, Students: resolve(d.StudentIDs, names)})
	}
	return out, nil
}

func (s *Service) checkFrames(frames []string) error {
	if len(frames) == 0 {
		return apperr.Validation("No image data received or invalid format")
	}
	res, err := liveness.Check(frames)
	if errors.Is(err, liveness.ErrFrameTooLarge) {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeValidation, "Image too large", err)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeValidation, "Invalid image data", err)
	}
	if !res.Live {
		s.metrics.Liveness()
		return apperr.Liveness(res.Reason)
	}
	return nil
}

func (s *Service) verify(ctx context.Context, reference, probe string) (*faceclient.Verification, error) {
	start := time.Now()
	defer s.metrics.ObserveEngine("verify", start)
	callCtx, cancel := context.WithTimeout(ctx, s.engineTimeout)
	defer cancel()
	return s.engine.Verify(callCtx, reference, probe)
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.events == nil {
		return
	}
	evt.ID = uuid.NewString()
	evt.When = s.now().UTC()
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("encode %s event failed: %v", evt.Type, err)
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: evt.Type, Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func resolve(ids []string, names map[string]string) []Attendee {
	out := make([]Attendee, 0, len(ids))
	for _, id := range ids {
		name, ok := names[id]
		if !ok {
			name = UnknownName
		}
		out = append(out, Attendee{StudentID: id, Name: name})
	}
	return out
}
