package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// AdminHandler serves the review and reporting endpoints for admins and
// super admins.
type AdminHandler struct {
	stores     database.Stores
	faces      FaceExtractor
	index      FaceIndex
	duplicates DuplicateFinder
	images     *ImageStore
	mailer     Notifier
	audit      *Auditor
	now        func() time.Time
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	stores database.Stores, faces FaceExtractor, index FaceIndex, duplicates DuplicateFinder,
	images *ImageStore, mailer Notifier, audit *Auditor,
) *AdminHandler {
	return &AdminHandler{
		stores:     stores,
		faces:      faces,
		index:      index,
		duplicates: duplicates,
		images:     images,
		mailer:     mailer,
		audit:      audit,
		now:        time.Now,
	}
}

// Stats returns the dashboard counters.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts := map[string]func() (int, error){
		"total_users":         func() (int, error) { return h.stores.Accounts.Count(ctx, database.RoleUser, false) },
		"active_users":        func() (int, error) { return h.stores.Accounts.Count(ctx, database.RoleUser, true) },
		"total_persons":       func() (int, error) { return h.stores.Persons.Count(ctx) },
		"total_attendance":    func() (int, error) { return h.stores.Attendance.Count(ctx) },
		"today_attendance":    func() (int, error) { return h.stores.Attendance.CountOn(ctx, today(h.now())) },
		"pending_enrollments": func() (int, error) { return h.stores.Enrollments.Count(ctx, database.StatusPending) },
		"pending_signups":     func() (int, error) { return h.stores.Signups.Count(ctx, database.StatusPending) },
		"pending_leaves": func() (int, error) {
			leaves, err := h.stores.Leaves.List(ctx, nil, database.StatusPending)
			return len(leaves), err
		},
	}

	out := make(map[string]any, len(counts))
	for key, count := range counts {
		n, err := count()
		if err != nil {
			respondInternal(w, r, "computing admin stats failed", err)
			return
		}
		out[key] = n
	}
	respondJSON(w, http.StatusOK, out)
}

// Persons lists enrolled persons, optionally filtered by name.
func (h *AdminHandler) Persons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.stores.Persons.List(r.Context(), false, r.URL.Query().Get("q"))
	if err != nil {
		respondInternal(w, r, "listing persons failed", err)
		return
	}
	if persons == nil {
		persons = []database.Person{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"persons": persons, "total": len(persons)})
}

// Attendance pages through every attendance record.
func (h *AdminHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r, database.AttendancePerPage)
	records, total, err := h.stores.Attendance.List(r.Context(), nil, page)
	if err != nil {
		respondInternal(w, r, "listing attendance failed", err)
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, pagedResponse("records", records, total, page))
}

// Users lists every user account.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.stores.Accounts.List(r.Context(), database.RoleUser, false)
	if err != nil {
		respondInternal(w, r, "listing users failed", err)
		return
	}
	if users == nil {
		users = []database.Account{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

// ListEnrollments filters enrollment requests by ?status (default pending).
func (h *AdminHandler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = database.StatusPending
	}
	reqs, err := h.stores.Enrollments.List(r.Context(), status)
	if err != nil {
		respondInternal(w, r, "listing enrollment requests failed", err)
		return
	}
	if reqs == nil {
		reqs = []database.EnrollmentRequest{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": reqs, "total": len(reqs)})
}

// loadEnrollment fetches the {id} enrollment request.
func (h *AdminHandler) loadEnrollment(w http.ResponseWriter, r *http.Request) (*database.EnrollmentRequest, bool) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid request ID")
		return nil, false
	}
	req, err := h.stores.Enrollments.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, errRequestNotFound)
		return nil, false
	}
	if err != nil {
		respondInternal(w, r, "loading enrollment request failed", err)
		return nil, false
	}
	return req, true
}

// loadImages reads an enrollment's stored photos, skipping missing files.
func (h *AdminHandler) loadImages(names []string) [][]byte {
	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := h.images.Load(name)
		if err != nil {
			logging.Warn("enrollment image unavailable", "image", name, "error", err)
			continue
		}
		out = append(out, data)
	}
	return out
}

// GetEnrollment returns one request with the persons its faces resemble.
func (h *AdminHandler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	req, ok := h.loadEnrollment(w, r)
	if !ok {
		return
	}
	var duplicates any = []any{}
	if req.Status == database.StatusPending {
		if found := findDuplicates(r.Context(), h.faces, h.duplicates, h.loadImages(req.Images)); found != nil {
			duplicates = found
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"request":              req,
		"potential_duplicates": duplicates,
	})
}

// ApproveEnrollment turns a pending request into an enrolled person.
func (h *AdminHandler) ApproveEnrollment(w http.ResponseWriter, r *http.Request) {
	req, ok := h.loadEnrollment(w, r)
	if !ok {
		return
	}
	if req.Status != database.StatusPending {
		respondError(w, http.StatusBadRequest, errAlreadyProcessed)
		return
	}

	ctx := r.Context()
	embeddings, failed := extractAll(ctx, h.faces, h.loadImages(req.Images), false)
	if len(embeddings) == 0 {
		respondError(w, http.StatusBadRequest, "No valid faces detected")
		return
	}

	// Claim first; a concurrent approval gets ErrAlreadyProcessed.
	admin := identity(r)
	if err := h.stores.Enrollments.Process(ctx, req.ID, database.StatusApproved, admin.ID, ""); err != nil {
		if errors.Is(err, database.ErrAlreadyProcessed) {
			respondError(w, http.StatusBadRequest, errAlreadyProcessed)
			return
		}
		respondInternal(w, r, "updating enrollment request failed", err)
		return
	}

	person, err := h.enroll(ctx, req.Name, req.UserID, embeddings)
	if err != nil {
		if rerr := h.stores.Enrollments.Reopen(ctx, req.ID); rerr != nil {
			logging.Error("failed to reopen enrollment request", "request_id", req.ID, "error", rerr)
		}
		respondInternal(w, r, "storing person failed", err)
		return
	}

	if req.UserID != nil {
		if err := h.stores.Accounts.SetEnrolled(ctx, *req.UserID, true); err != nil {
			logging.Error("failed to flag user enrolled", "user_id", *req.UserID, "error", err)
		}
	}
	h.notifyApproval(ctx, req.Email, req.Name)
	h.audit.Record(r, "approve_enrollment",
		fmt.Sprintf("Approved enrollment for %s (%d faces)", req.Name, len(embeddings)))

	respondJSON(w, http.StatusOK, map[string]any{
		"message":      "Enrollment approved successfully",
		"person_id":    person.ID,
		"faces_used":   len(embeddings),
		"faces_failed": failed,
	})
}

// enroll averages embeddings into a new active person and indexes them.
func (h *AdminHandler) enroll(ctx context.Context, name string, userID *int64, embeddings [][]float32) (*database.Person, error) {
	person := &database.Person{
		Name:           name,
		UserID:         userID,
		EmbeddingDim:   len(embeddings[0]),
		PhotosCount:    len(embeddings),
		Status:         database.StatusActive,
		EnrollmentDate: h.now().UTC(),
	}
	if err := h.index.Add(ctx, person, embeddings); err != nil {
		return nil, err
	}
	return person, nil
}

func (h *AdminHandler) notifyApproval(ctx context.Context, email, name string) {
	if h.mailer == nil || email == "" {
		return
	}
	if err := h.mailer.SendApprovalNotification(ctx, email, name); err != nil {
		logging.Warn("failed to send approval email", "email", email, "error", err)
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func rejectReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return "", false
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultRejectReason
	}
	return reason, true
}

// processResult maps the error of a Process call to a response. It returns
// false when a response was written.
func processResult(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, errRequestNotFound)
	case errors.Is(err, database.ErrAlreadyProcessed):
		respondError(w, http.StatusBadRequest, errAlreadyProcessed)
	default:
		respondInternal(w, r, "processing request failed", err)
	}
	return false
}

// RejectEnrollment rejects a pending request with an optional reason.
func (h *AdminHandler) RejectEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}
	reason, ok := rejectReason(w, r)
	if !ok {
		return
	}
	err := h.stores.Enrollments.Process(r.Context(), id, database.StatusRejected, identity(r).ID, reason)
	if !processResult(w, r, err) {
		return
	}
	h.audit.Record(r, "reject_enrollment", fmt.Sprintf("Rejected enrollment request %d: %s", id, reason))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Enrollment rejected"})
}

type directEnrollmentRequest struct {
	Name   string   `json:"name"`
	Images []string `json:"images"`
}

// DirectEnrollment enrolls a person from admin-captured photos without a
// request. Photos must pass the face quality gates.
func (h *AdminHandler) DirectEnrollment(w http.ResponseWriter, r *http.Request) {
	var req directEnrollmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Images) < minEnrollPhotos {
		respondError(w, http.StatusBadRequest, "Name and at least 3 images required")
		return
	}
	uploads, err := decodeUploads(req.Images)
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidImage)
		return
	}
	raw := make([][]byte, len(uploads))
	for i, u := range uploads {
		raw[i] = u.data
	}

	ctx := r.Context()
	embeddings, failed := extractAll(ctx, h.faces, raw, true)
	if len(embeddings) < minDirectFaces {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "At least 2 valid faces required",
			"failed": failed,
		})
		return
	}

	person, err := h.enroll(ctx, req.Name, nil, embeddings)
	if err != nil {
		respondInternal(w, r, "storing person failed", err)
		return
	}
	h.audit.Record(r, "direct_enrollment",
		fmt.Sprintf("Enrolled %s directly (%d faces)", req.Name, len(embeddings)))

	respondJSON(w, http.StatusCreated, map[string]any{
		"message":      "Person enrolled successfully",
		"person_id":    person.ID,
		"faces_used":   len(embeddings),
		"faces_failed": failed,
	})
}

// ListSignups filters signup requests by ?status (default pending).
func (h *AdminHandler) ListSignups(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = database.StatusPending
	}
	reqs, err := h.stores.Signups.List(r.Context(), status)
	if err != nil {
		respondInternal(w, r, "listing signup requests failed", err)
		return
	}
	if reqs == nil {
		reqs = []database.SignupRequest{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": reqs, "total": len(reqs)})
}

// CountSignups returns the number of pending signup requests.
func (h *AdminHandler) CountSignups(w http.ResponseWriter, r *http.Request) {
	n, err := h.stores.Signups.Count(r.Context(), database.StatusPending)
	if err != nil {
		respondInternal(w, r, "counting signup requests failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": n})
}

// ApproveSignup creates the user account from a pending signup request and
// emails a verification code.
func (h *AdminHandler) ApproveSignup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}
	ctx := r.Context()
	req, err := h.stores.Signups.Get(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, errRequestNotFound)
		return
	}
	if err != nil {
		respondInternal(w, r, "loading signup request failed", err)
		return
	}
	if req.Status != database.StatusPending {
		respondError(w, http.StatusBadRequest, errAlreadyProcessed)
		return
	}

	acc := &database.Account{
		Role:         database.RoleUser,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		Phone:        req.Phone,
		Department:   req.Department,
		ProfileImage: req.ProfileImage,
		Status:       database.StatusActive,
		IsActive:     true,
	}
	if err := h.stores.Accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			respondError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		respondInternal(w, r, "creating user failed", err)
		return
	}
	if !processResult(w, r, h.stores.Signups.Process(ctx, id, database.StatusApproved, identity(r).ID, "")) {
		return
	}

	sendVerification(ctx, h.stores.Accounts, h.mailer, acc, h.now())
	h.audit.Record(r, "approve_signup", "Approved signup for "+req.Email)
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Signup approved. A verification code was sent to the user.",
		"user_id": acc.ID,
	})
}

// RejectSignup rejects a pending signup request.
func (h *AdminHandler) RejectSignup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}
	reason, ok := rejectReason(w, r)
	if !ok {
		return
	}
	if !processResult(w, r, h.stores.Signups.Process(r.Context(), id, database.StatusRejected, identity(r).ID, reason)) {
		return
	}
	h.audit.Record(r, "reject_signup", fmt.Sprintf("Rejected signup request %d: %s", id, reason))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Signup rejected"})
}

// ListLeaves filters every user's leave requests by ?status.
func (h *AdminHandler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	leaves, err := h.stores.Leaves.List(r.Context(), nil, r.URL.Query().Get("status"))
	if err != nil {
		respondInternal(w, r, "listing leave requests failed", err)
		return
	}
	if leaves == nil {
		leaves = []database.LeaveRequest{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": leaves, "total": len(leaves)})
}

// ApproveLeave approves a pending leave request.
func (h *AdminHandler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}
	if !processResult(w, r, h.stores.Leaves.Process(r.Context(), id, database.StatusApproved, identity(r).ID, "")) {
		return
	}
	h.audit.Record(r, "approve_leave", fmt.Sprintf("Approved leave request %d", id))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Leave approved"})
}

// RejectLeave rejects a pending leave request.
func (h *AdminHandler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}
	reason, ok := rejectReason(w, r)
	if !ok {
		return
	}
	if !processResult(w, r, h.stores.Leaves.Process(r.Context(), id, database.StatusRejected, identity(r).ID, reason)) {
		return
	}
	h.audit.Record(r, "reject_leave", fmt.Sprintf("Rejected leave request %d: %s", id, reason))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Leave rejected"})
}
