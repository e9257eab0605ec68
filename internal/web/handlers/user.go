package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// UserHandler serves the endpoints of enrolled and enrolling users.
type UserHandler struct {
	stores     database.Stores
	faces      FaceExtractor
	index      FaceIndex
	duplicates DuplicateFinder
	images     *ImageStore
	audit      *Auditor
	now        func() time.Time
}

// NewUserHandler creates a new user handler
func NewUserHandler(
	stores database.Stores, faces FaceExtractor, index FaceIndex, duplicates DuplicateFinder,
	images *ImageStore, audit *Auditor,
) *UserHandler {
	return &UserHandler{
		stores:     stores,
		faces:      faces,
		index:      index,
		duplicates: duplicates,
		images:     images,
		audit:      audit,
		now:        time.Now,
	}
}

// currentUser loads the caller's user row, answering 404 when it is gone.
func (h *UserHandler) currentUser(w http.ResponseWriter, r *http.Request) (*database.Account, bool) {
	id := identity(r)
	acc, err := h.stores.Accounts.Get(r.Context(), database.RoleUser, id.ID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return nil, false
	}
	if err != nil {
		respondInternal(w, r, "loading user failed", err)
		return nil, false
	}
	return acc, true
}

type enrollmentSubmitRequest struct {
	Images []string `json:"images"`
}

// SubmitEnrollment files an enrollment request from at least three photos.
func (h *UserHandler) SubmitEnrollment(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	pending, err := h.stores.Enrollments.HasPending(ctx, acc.ID)
	if err != nil {
		respondInternal(w, r, "checking pending enrollment failed", err)
		return
	}
	if pending {
		respondError(w, http.StatusBadRequest, "You already have a pending enrollment request")
		return
	}
	if acc.IsEnrolled {
		respondError(w, http.StatusBadRequest, "You are already enrolled")
		return
	}

	var req enrollmentSubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Images) < minEnrollPhotos {
		respondError(w, http.StatusBadRequest, "At least 3 photos required")
		return
	}

	uploads, err := decodeUploads(req.Images)
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidImage)
		return
	}
	scores, err := scoreUploads(uploads)
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidImage)
		return
	}

	raw := make([][]byte, len(uploads))
	for i, u := range uploads {
		raw[i] = u.data
	}
	duplicates := findDuplicates(ctx, h.faces, h.duplicates, raw)

	names, err := h.images.saveUploads(uploads)
	if err != nil {
		respondInternal(w, r, "storing enrollment images failed", err)
		return
	}

	userID := acc.ID
	enrollment := &database.EnrollmentRequest{
		UserID:        &userID,
		Name:          acc.Name,
		Email:         acc.Email,
		Phone:         acc.Phone,
		Images:        names,
		Status:        database.StatusPending,
		QualityScores: scores,
	}
	if err := h.stores.Enrollments.Create(ctx, enrollment); err != nil {
		h.images.Remove(names...)
		respondInternal(w, r, "creating enrollment request failed", err)
		return
	}

	good := 0
	for _, s := range scores {
		if s.Quality == qualityGood {
			good++
		}
	}
	h.audit.Record(r, "submit_enrollment",
		fmt.Sprintf("Submitted %d photos (%d good quality)", len(names), good))

	respondJSON(w, http.StatusCreated, map[string]any{
		"message":              "Enrollment request submitted successfully",
		"request_id":           enrollment.ID,
		"quality_scores":       scores,
		"potential_duplicates": duplicates,
	})
}

// EnrollmentStatus reports whether the caller is enrolled and their latest request.
func (h *UserHandler) EnrollmentStatus(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	latest, err := h.stores.Enrollments.Latest(r.Context(), acc.ID)
	if err != nil {
		respondInternal(w, r, "loading enrollment request failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"is_enrolled":    acc.IsEnrolled,
		"latest_request": latest,
	})
}

type markAttendanceRequest struct {
	Image string `json:"image"`
}

// MarkAttendance recognizes the caller's face and records today's attendance.
func (h *UserHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if !acc.IsEnrolled {
		respondError(w, http.StatusBadRequest, "You must be enrolled first")
		return
	}

	var req markAttendanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		respondError(w, http.StatusBadRequest, "Image required")
		return
	}
	uploads, err := decodeUploads([]string{req.Image})
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidImage)
		return
	}

	ctx := r.Context()
	if err := h.index.Sync(ctx); err != nil {
		logging.Warn("index sync failed", "error", err)
	}

	ext, err := h.faces.ExtractEmbedding(ctx, uploads[0].data, false)
	if err != nil {
		if faceErrorStatus(err) != http.StatusBadRequest {
			logging.Error("face extraction failed", "error", err)
		}
		respondError(w, faceErrorStatus(err), faceErrorMessage(err))
		return
	}

	rec, err := h.index.Recognize(ctx, ext.Embedding, true)
	if err != nil {
		respondInternal(w, r, "recognition failed", err)
		return
	}
	if !rec.Matched() {
		respondError(w, http.StatusBadRequest, "Face not recognized")
		return
	}
	if rec.Match.UserID == nil || *rec.Match.UserID != acc.ID {
		respondError(w, http.StatusBadRequest, "Face does not match your profile")
		return
	}

	now := h.now().UTC()
	userID := acc.ID
	stored, created, err := h.stores.Attendance.Mark(ctx, &database.AttendanceRecord{
		PersonID:   rec.Match.PersonID,
		UserID:     &userID,
		Name:       acc.Name,
		Timestamp:  now,
		MarkedOn:   today(now),
		Confidence: rec.Match.Similarity,
	})
	if err != nil {
		respondInternal(w, r, "marking attendance failed", err)
		return
	}
	if !created {
		respondJSON(w, http.StatusOK, map[string]any{
			"message":    "Attendance already marked today",
			"attendance": stored,
		})
		return
	}

	h.audit.Record(r, "mark_attendance", fmt.Sprintf("Attendance marked (confidence %.2f)", rec.Match.Similarity))
	respondJSON(w, http.StatusCreated, map[string]any{
		"message":    "Attendance marked successfully",
		"attendance": stored,
		"confidence": rec.Match.Similarity,
	})
}

// AttendanceHistory pages through the caller's attendance, newest first.
func (h *UserHandler) AttendanceHistory(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	page := pageFromQuery(r, database.AttendanceHistoryPerPage)
	records, total, err := h.stores.Attendance.List(r.Context(), &id.ID, page)
	if err != nil {
		respondInternal(w, r, "listing attendance failed", err)
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, pagedResponse("records", records, total, page))
}

// Stats summarizes the caller's attendance and requests.
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	total, err := h.stores.Attendance.CountForUser(ctx, acc.ID)
	if err != nil {
		respondInternal(w, r, "counting attendance failed", err)
		return
	}
	marked, err := h.stores.Attendance.HasMarked(ctx, acc.ID, today(h.now()))
	if err != nil {
		respondInternal(w, r, "checking attendance failed", err)
		return
	}
	leaves, err := h.stores.Leaves.List(ctx, &acc.ID, database.StatusPending)
	if err != nil {
		respondInternal(w, r, "listing leave requests failed", err)
		return
	}
	latest, err := h.stores.Enrollments.Latest(ctx, acc.ID)
	if err != nil {
		respondInternal(w, r, "loading enrollment request failed", err)
		return
	}
	enrollmentStatus := "not_submitted"
	if latest != nil {
		enrollmentStatus = latest.Status
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"total_attendance":  total,
		"marked_today":      marked,
		"is_enrolled":       acc.IsEnrolled,
		"email_verified":    acc.EmailVerified,
		"enrollment_status": enrollmentStatus,
		"pending_leaves":    len(leaves),
	})
}

type leaveRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason"`
}

// SubmitLeave files a leave request for an inclusive date range.
func (h *UserHandler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.StartDate == "" || req.EndDate == "" || req.Reason == "" {
		respondError(w, http.StatusBadRequest, "Start date, end date and reason required")
		return
	}
	start, err1 := time.Parse(dateLayout, req.StartDate)
	end, err2 := time.Parse(dateLayout, req.EndDate)
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "Dates must be in YYYY-MM-DD format")
		return
	}
	if end.Before(start) {
		respondError(w, http.StatusBadRequest, "End date must be on or after start date")
		return
	}

	id := identity(r)
	leave := &database.LeaveRequest{
		UserID:    id.ID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Reason:    req.Reason,
		Status:    database.StatusPending,
	}
	if err := h.stores.Leaves.Create(r.Context(), leave); err != nil {
		respondInternal(w, r, "creating leave request failed", err)
		return
	}
	h.audit.Record(r, "submit_leave", fmt.Sprintf("Leave %s to %s", req.StartDate, req.EndDate))
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Leave request submitted successfully",
		"leave":   leave,
	})
}

// ListLeaves returns the caller's leave requests.
func (h *UserHandler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	leaves, err := h.stores.Leaves.List(r.Context(), &id.ID, r.URL.Query().Get("status"))
	if err != nil {
		respondInternal(w, r, "listing leave requests failed", err)
		return
	}
	if leaves == nil {
		leaves = []database.LeaveRequest{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"leaves": leaves})
}
