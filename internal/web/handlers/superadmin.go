package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/worker"
)

const (
	defaultStatDays = 7
	taskRebuildKind = "rebuild_index"
)

// TaskRunner queues background work.
type TaskRunner interface {
	Submit(id string, fn worker.Func) (string, error)
	Status(id string) (worker.Task, error)
	List() []worker.Task
	QueueSize() int
}

// SuperAdminHandler manages admins, users, the audit log and index tasks.
type SuperAdminHandler struct {
	stores database.Stores
	index  FaceIndex
	tasks  TaskRunner
	audit  *Auditor
	now    func() time.Time
}

// NewSuperAdminHandler creates a new super admin handler
func NewSuperAdminHandler(stores database.Stores, index FaceIndex, tasks TaskRunner, audit *Auditor) *SuperAdminHandler {
	return &SuperAdminHandler{
		stores: stores,
		index:  index,
		tasks:  tasks,
		audit:  audit,
		now:    time.Now,
	}
}

// Stats returns system-wide counters.
func (h *SuperAdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts := map[string]func() (int, error){
		"total_admins":     func() (int, error) { return h.stores.Accounts.Count(ctx, database.RoleAdmin, false) },
		"active_admins":    func() (int, error) { return h.stores.Accounts.Count(ctx, database.RoleAdmin, true) },
		"total_users":      func() (int, error) { return h.stores.Accounts.Count(ctx, database.RoleUser, false) },
		"active_users":     func() (int, error) { return h.stores.Accounts.Count(ctx, database.RoleUser, true) },
		"total_persons":    func() (int, error) { return h.stores.Persons.Count(ctx) },
		"total_attendance": func() (int, error) { return h.stores.Attendance.Count(ctx) },
		"today_attendance": func() (int, error) { return h.stores.Attendance.CountOn(ctx, today(h.now())) },
		"pending_enrollments": func() (int, error) {
			return h.stores.Enrollments.Count(ctx, database.StatusPending)
		},
	}

	out := make(map[string]any, len(counts)+1)
	for key, count := range counts {
		n, err := count()
		if err != nil {
			respondInternal(w, r, "computing system stats failed", err)
			return
		}
		out[key] = n
	}
	if h.index != nil {
		if stats, err := h.index.Stats(ctx); err == nil {
			out["index"] = stats
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// ListAdmins returns every admin account.
func (h *SuperAdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.stores.Accounts.List(r.Context(), database.RoleAdmin, false)
	if err != nil {
		respondInternal(w, r, "listing admins failed", err)
		return
	}
	if admins == nil {
		admins = []database.Account{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"admins": admins})
}

type createAdminRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Department string `json:"department"`
}

// CreateAdmin adds an active admin account.
func (h *SuperAdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Name, email and password required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondHashError(w, r, err)
		return
	}
	creator := identity(r).ID
	acc := &database.Account{
		Role:         database.RoleAdmin,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Department:   req.Department,
		IsActive:     true,
		CreatedBy:    &creator,
	}
	if err := h.stores.Accounts.Create(r.Context(), acc); err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			respondError(w, http.StatusBadRequest, "Email already exists")
			return
		}
		respondInternal(w, r, "creating admin failed", err)
		return
	}
	h.audit.Record(r, "create_admin", "Created admin "+acc.Email)
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Admin created successfully",
		"admin":   acc,
	})
}

type updateAccountRequest struct {
	Name       *string `json:"name"`
	Department *string `json:"department"`
	Phone      *string `json:"phone"`
	Status     *string `json:"status"`
	IsActive   *bool   `json:"is_active"`
	Password   *string `json:"password"`
}

// UpdateAdmin changes an admin's profile, active flag or password.
func (h *SuperAdminHandler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	var req updateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	upd := database.AccountUpdate{
		Name:       req.Name,
		Department: req.Department,
		Phone:      req.Phone,
		IsActive:   req.IsActive,
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			respondHashError(w, r, err)
			return
		}
		upd.PasswordHash = &hash
	}

	acc, err := h.stores.Accounts.Update(r.Context(), database.RoleAdmin, id, upd)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Admin not found")
		return
	}
	if err != nil {
		respondInternal(w, r, "updating admin failed", err)
		return
	}
	h.audit.Record(r, "update_admin", "Updated admin "+acc.Email)
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Admin updated successfully",
		"admin":   acc,
	})
}

// DeleteAdmin deactivates an admin. Rows are kept for the audit trail.
func (h *SuperAdminHandler) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	inactive := false
	acc, err := h.stores.Accounts.Update(r.Context(), database.RoleAdmin, id, database.AccountUpdate{IsActive: &inactive})
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Admin not found")
		return
	}
	if err != nil {
		respondInternal(w, r, "deactivating admin failed", err)
		return
	}
	h.audit.Record(r, "delete_admin", "Deactivated admin "+acc.Email)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Admin deactivated successfully"})
}

// ListUsers returns every user account.
func (h *SuperAdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
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

// UpdateUser changes a user's profile or status (active or inactive).
func (h *SuperAdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req updateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status != nil && *req.Status != database.StatusActive && *req.Status != database.StatusInactive {
		respondError(w, http.StatusBadRequest, "Status must be active or inactive")
		return
	}
	upd := database.AccountUpdate{
		Name:       req.Name,
		Department: req.Department,
		Phone:      req.Phone,
		Status:     req.Status,
	}
	acc, err := h.stores.Accounts.Update(r.Context(), database.RoleUser, id, upd)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondInternal(w, r, "updating user failed", err)
		return
	}
	h.audit.Record(r, "update_user", "Updated user "+acc.Email)
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "User updated successfully",
		"user":    acc,
	})
}

// Logs pages through the audit log, newest first.
func (h *SuperAdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r, database.LogsPerPage)
	logs, total, err := h.stores.Logs.List(r.Context(), page)
	if err != nil {
		respondInternal(w, r, "listing logs failed", err)
		return
	}
	if logs == nil {
		logs = []database.SystemLog{}
	}
	respondJSON(w, http.StatusOK, pagedResponse("logs", logs, total, page))
}

// AttendanceStats returns per-day attendance counts for ?days (1 to 90).
func (h *SuperAdminHandler) AttendanceStats(w http.ResponseWriter, r *http.Request) {
	days := min(max(queryInt(r, "days", defaultStatDays), 1), maxAttendanceStatDay)
	counts, err := h.stores.Attendance.DailyCounts(r.Context(), h.now().UTC(), days)
	if err != nil {
		respondInternal(w, r, "computing attendance stats failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"daily_attendance": counts,
		"days":             days,
	})
}

// RebuildIndex queues a rebuild of the in-memory face index.
func (h *SuperAdminHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil || h.index == nil {
		respondError(w, http.StatusServiceUnavailable, "Background worker not available")
		return
	}
	index := h.index
	id, err := h.tasks.Submit(taskRebuildKind+"-"+uuid.NewString(), func(ctx context.Context) (any, error) {
		if err := index.Rebuild(ctx); err != nil {
			return nil, err
		}
		return index.Stats(ctx)
	})
	if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
		respondError(w, http.StatusServiceUnavailable, "Task queue is full, try again later")
		return
	}
	if err != nil {
		respondInternal(w, r, "queueing index rebuild failed", err)
		return
	}
	h.audit.Record(r, "rebuild_index", fmt.Sprintf("Queued index rebuild %s", id))
	respondJSON(w, http.StatusAccepted, map[string]any{
		"message": "Index rebuild queued",
		"task_id": id,
	})
}

// ListTasks returns every known task.
func (h *SuperAdminHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil {
		respondJSON(w, http.StatusOK, map[string]any{"tasks": []worker.Task{}, "queue_size": 0})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks":      h.tasks.List(),
		"queue_size": h.tasks.QueueSize(),
	})
}

// GetTask returns one task's status and result.
func (h *SuperAdminHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	task, err := h.tasks.Status(chi.URLParam(r, "id"))
	if errors.Is(err, worker.ErrTaskNotFound) {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		respondInternal(w, r, "loading task failed", err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}
