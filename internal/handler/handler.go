// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"faceattend/internal/apperr"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/schedule"
	"faceattend/internal/student"
)

// EventLister reads the audit trail written by the worker.
type EventLister interface {
	ListEvents(ctx context.Context, studentID string, limit, offset int) ([]attendance.Event, error)
}

// Probe is one dependency reported by /healthz. A failing critical probe
// turns the response into a 503.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) bool
}

type Handler struct {
	students   *student.Service
	attendance *attendance.Service
	schedules  *schedule.Service
	tokens     *auth.Tokens
	events     EventLister // nil when the store has no audit table
	probes     []Probe
}

// New builds a handler. events may be nil.
func New(students *student.Service, att *attendance.Service, schedules *schedule.Service, tokens *auth.Tokens, events EventLister, probes ...Probe) *Handler {
	return &Handler{
		students:   students,
		attendance: att,
		schedules:  schedules,
		tokens:     tokens,
		events:     events,
		probes:     probes,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	r.POST("/register", h.Register)
	r.POST("/login", h.Login)

	authed := r.Group("/", auth.StudentAuth(h.tokens))
	{
		own := auth.RequireSubject("id")
		authed.GET("/check-face-data-presence/:id", own, h.FacePresence)
		authed.POST("/add-face-data/:id", own, h.Enroll)
		authed.POST("/compare-face-data/:id", own, h.Verify)
		authed.GET("/is-todays-attendance-marked/:id", own, h.IsMarkedToday)
		authed.GET("/api/schedules/:id", own, h.StudentSchedule)

		authed.GET("/profile", h.Profile)
		authed.PATCH("/profile", h.UpdateProfile)
		authed.POST("/change-password", h.ChangePassword)
	}

	api := r.Group("/api")
	{
		api.GET("/admin/schedules", h.GetSchedule)
		api.POST("/admin/schedules", h.PutSchedule)

		api.GET("/attendance/today", h.Today)
		api.GET("/attendance/history", h.History)
		api.GET("/attendance/events", h.Events)
	}
}

func fail(c *gin.Context, err error) {
	e := apperr.As(err)
	c.JSON(e.Status(), gin.H{"code": e.Code, "message": e.Message})
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, p := range h.probes {
		ok := p.Check(c.Request.Context())
		body[p.Name] = ok
		if !ok && p.Critical {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Registration & login ----------

func (h *Handler) Register(c *gin.Context) {
	var req student.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("Missing data"))
		return
	}
	if err := h.students.Register(c.Request.Context(), req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
}

type loginRequest struct {
	StudentID string `json:"studentId"`
	Password  string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("Missing studentId or password"))
		return
	}
	session, err := h.students.Login(c.Request.Context(), req.StudentID, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": session.Token, "expiresAt": session.ExpiresAt.Unix()})
}

// ---------- Face data ----------

type framesRequest struct {
	Images []string `json:"images"`
}

func bindFrames(c *gin.Context) ([]string, bool) {
	var req framesRequest
	err := c.ShouldBindJSON(&req)
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "TooLarge", "message": "request body too large"})
		return nil, false
	}
	if err != nil || len(req.Images) == 0 {
		fail(c, apperr.Validation("No image data received or invalid format"))
		return nil, false
	}
	return req.Images, true
}

func (h *Handler) FacePresence(c *gin.Context) {
	has, err := h.students.HasFaceData(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hasFaceData": has})
}

func (h *Handler) Enroll(c *gin.Context) {
	frames, ok := bindFrames(c)
	if !ok {
		return
	}
	if err := h.attendance.Enroll(c.Request.Context(), c.Param("id"), frames); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Face data added successfully"})
}

func (h *Handler) Verify(c *gin.Context) {
	frames, ok := bindFrames(c)
	if !ok {
		return
	}
	mark, err := h.attendance.VerifyAndMark(c.Request.Context(), c.Param("id"), frames)
	if err != nil {
		fail(c, err)
		return
	}
	msg := "Attendance marked successfully"
	if mark.AlreadyMarked {
		msg = "Attendance already marked for today"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "date": mark.Date, "alreadyMarked": mark.AlreadyMarked})
}

func (h *Handler) IsMarkedToday(c *gin.Context) {
	marked, err := h.attendance.IsMarkedToday(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isAttendanceMarked": marked})
}

// ---------- Profile ----------

func (h *Handler) Profile(c *gin.Context) {
	p, err := h.students.Profile(c.Request.Context(), auth.Subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		fail(c, apperr.Validation("Request body must be a JSON object"))
		return
	}
	if err := h.students.UpdateProfile(c.Request.Context(), auth.Subject(c), fields); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully"})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("oldPassword and newPassword are required"))
		return
	}
	if err := h.students.ChangePassword(c.Request.Context(), auth.Subject(c), req.OldPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

// ---------- Schedules ----------

type scheduleRequest struct {
	Section  string          `json:"section"`
	Schedule json.RawMessage `json:"schedule"`
}

// GetSchedule and PutSchedule are open to any caller, matching the
// admin console's deployment behind a trusted network.
func (h *Handler) GetSchedule(c *gin.Context) {
	s, err := h.schedules.Get(c.Request.Context(), c.Query("section"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) PutSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("section and schedule are required"))
		return
	}
	if err := h.schedules.Put(c.Request.Context(), req.Section, req.Schedule); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Schedule saved successfully"})
}

func (h *Handler) StudentSchedule(c *gin.Context) {
	s, err := h.schedules.ForStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ---------- Attendance ledger ----------

func (h *Handler) Today(c *gin.Context) {
	date, students, err := h.attendance.TodaysAttendees(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "students": students})
}

func (h *Handler) History(c *gin.Context) {
	days, err := h.attendance.History(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": days})
}

func (h *Handler) Events(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "Unavailable", "message": "audit events require the postgres store"})
		return
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	events, err := h.events.ListEvents(c.Request.Context(), c.Query("student_id"), limit, offset)
	if err != nil {
		fail(c, apperr.Persistence("list events", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
