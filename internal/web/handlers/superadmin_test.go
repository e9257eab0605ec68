package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/worker"
)

func (e *testEnv) superAdminHandler(tasks TaskRunner) *SuperAdminHandler {
	h := NewSuperAdminHandler(e.stores, e.recognizer, tasks, e.audit)
	h.now = func() time.Time { return fixedNow }
	return h
}

func TestSuperAdminHandler_AdminLifecycle(t *testing.T) {
	env := newTestEnv(t)
	root := env.addAdmin(t, database.RoleSuperAdmin, "root@example.com")
	handler := env.superAdminHandler(nil)
	id := identityOf(root)

	recorder := httptest.NewRecorder()
	handler.CreateAdmin(recorder, jsonRequest(t, http.MethodPost, "/api/superadmin/admins",
		map[string]string{"name": "Ops", "email": "ops@example.com", "password": "pw123456"}, id))
	assertStatusCode(t, recorder, http.StatusCreated)
	var created struct {
		Admin database.Account `json:"admin"`
	}
	parseJSONResponse(t, recorder, &created)
	if !created.Admin.IsActive || created.Admin.CreatedBy == nil || *created.Admin.CreatedBy != root.ID {
		t.Errorf("unexpected admin: %+v", created.Admin)
	}

	recorder = httptest.NewRecorder()
	handler.CreateAdmin(recorder, jsonRequest(t, http.MethodPost, "/api/superadmin/admins",
		map[string]string{"name": "Dup", "email": "ops@example.com", "password": "pw"}, id))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "Email already exists")

	adminID := map[string]string{"id": itoa(created.Admin.ID)}
	recorder = httptest.NewRecorder()
	handler.UpdateAdmin(recorder, requestWithChiParams(jsonRequest(t, http.MethodPut, "/api/superadmin/admins/x",
		map[string]string{"name": "Operations", "password": "rotated"}, id), adminID))
	assertStatusCode(t, recorder, http.StatusOK)
	acc, _ := env.stores.Accounts.Get(t.Context(), database.RoleAdmin, created.Admin.ID)
	if acc.Name != "Operations" || !auth.CheckPassword(acc.PasswordHash, "rotated") {
		t.Errorf("admin not updated: %+v", acc)
	}

	recorder = httptest.NewRecorder()
	handler.DeleteAdmin(recorder, requestWithChiParams(jsonRequest(t, http.MethodDelete, "/api/superadmin/admins/x", nil, id), adminID))
	assertStatusCode(t, recorder, http.StatusOK)
	acc, _ = env.stores.Accounts.Get(t.Context(), database.RoleAdmin, created.Admin.ID)
	if acc.IsActive {
		t.Error("deleted admin should be inactive")
	}

	recorder = httptest.NewRecorder()
	handler.UpdateAdmin(recorder, requestWithChiParams(jsonRequest(t, http.MethodPut, "/api/superadmin/admins/404",
		map[string]string{"name": "X"}, id), map[string]string{"id": "404"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "Admin not found")

	recorder = httptest.NewRecorder()
	handler.ListAdmins(recorder, jsonRequest(t, http.MethodGet, "/api/superadmin/admins", nil, id))
	var list struct {
		Admins []database.Account `json:"admins"`
	}
	parseJSONResponse(t, recorder, &list)
	if len(list.Admins) != 1 {
		t.Errorf("got %d admins, want 1", len(list.Admins))
	}
}

func TestSuperAdminHandler_UpdateUser(t *testing.T) {
	env := newTestEnv(t)
	root := env.addAdmin(t, database.RoleSuperAdmin, "root@example.com")
	user := env.addUser(t, "member@example.com", false)
	handler := env.superAdminHandler(nil)
	params := map[string]string{"id": itoa(user.ID)}

	recorder := httptest.NewRecorder()
	handler.UpdateUser(recorder, requestWithChiParams(jsonRequest(t, http.MethodPut, "/api/superadmin/users/x",
		map[string]string{"status": "banned"}, identityOf(root)), params))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "Status must be active or inactive")

	recorder = httptest.NewRecorder()
	handler.UpdateUser(recorder, requestWithChiParams(jsonRequest(t, http.MethodPut, "/api/superadmin/users/x",
		map[string]string{"status": "inactive"}, identityOf(root)), params))
	assertStatusCode(t, recorder, http.StatusOK)
	acc, _ := env.stores.Accounts.Get(t.Context(), database.RoleUser, user.ID)
	if acc.IsActive || acc.Status != database.StatusInactive {
		t.Errorf("user not deactivated: %+v", acc)
	}
}

func TestSuperAdminHandler_LogsAndAttendanceStats(t *testing.T) {
	env := newTestEnv(t)
	root := env.addAdmin(t, database.RoleSuperAdmin, "root@example.com")
	handler := env.superAdminHandler(nil)
	for range 3 {
		env.audit.RecordAs(httptest.NewRequest(http.MethodGet, "/", nil), "system", nil, "", "tick", "")
	}

	recorder := httptest.NewRecorder()
	handler.Logs(recorder, jsonRequest(t, http.MethodGet, "/api/superadmin/logs?per_page=2", nil, identityOf(root)))
	var logs struct {
		Logs  []database.SystemLog `json:"logs"`
		Total int                  `json:"total"`
		Pages int                  `json:"pages"`
	}
	parseJSONResponse(t, recorder, &logs)
	if len(logs.Logs) != 2 || logs.Total != 3 || logs.Pages != 2 {
		t.Errorf("unexpected logs: %+v", logs)
	}

	tests := []struct {
		query    string
		wantDays int
	}{
		{"", 7},
		{"?days=30", 30},
		{"?days=365", 90},
		{"?days=-4", 7},
	}
	for _, tt := range tests {
		t.Run("days"+tt.query, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.AttendanceStats(recorder, jsonRequest(t, http.MethodGet, "/api/superadmin/attendance-stats"+tt.query, nil, identityOf(root)))
			assertStatusCode(t, recorder, http.StatusOK)
			var body struct {
				Daily []database.DailyCount `json:"daily_attendance"`
				Days  int                   `json:"days"`
			}
			parseJSONResponse(t, recorder, &body)
			if body.Days != tt.wantDays || len(body.Daily) != tt.wantDays {
				t.Errorf("days = %d with %d entries, want %d", body.Days, len(body.Daily), tt.wantDays)
			}
		})
	}
}

func TestSuperAdminHandler_RebuildIndexTask(t *testing.T) {
	env := newTestEnv(t)
	root := env.addAdmin(t, database.RoleSuperAdmin, "root@example.com")
	pool := worker.New(1, 4)
	t.Cleanup(pool.Stop)
	handler := env.superAdminHandler(pool)

	recorder := httptest.NewRecorder()
	handler.RebuildIndex(recorder, jsonRequest(t, http.MethodPost, "/api/superadmin/index/rebuild", nil, identityOf(root)))
	assertStatusCode(t, recorder, http.StatusAccepted)
	var queued map[string]string
	parseJSONResponse(t, recorder, &queued)
	taskID := queued["task_id"]
	if taskID == "" {
		t.Fatalf("task_id missing: %v", queued)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	task, err := pool.Wait(ctx, taskID)
	if err != nil || task.Status != worker.StatusCompleted {
		t.Fatalf("task = %+v, %v", task, err)
	}

	recorder = httptest.NewRecorder()
	handler.GetTask(recorder, requestWithChiParams(jsonRequest(t, http.MethodGet, "/api/superadmin/tasks/x", nil, identityOf(root)),
		map[string]string{"id": taskID}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.GetTask(recorder, requestWithChiParams(jsonRequest(t, http.MethodGet, "/api/superadmin/tasks/x", nil, identityOf(root)),
		map[string]string{"id": "missing"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "Task not found")

	recorder = httptest.NewRecorder()
	handler.ListTasks(recorder, jsonRequest(t, http.MethodGet, "/api/superadmin/tasks", nil, identityOf(root)))
	var list struct {
		Tasks []worker.Task `json:"tasks"`
	}
	parseJSONResponse(t, recorder, &list)
	if len(list.Tasks) != 1 {
		t.Errorf("got %d tasks, want 1", len(list.Tasks))
	}
}

func TestSuperAdminHandler_TaskEvents(t *testing.T) {
	prev := taskPollInterval
	taskPollInterval = 10 * time.Millisecond
	t.Cleanup(func() { taskPollInterval = prev })

	env := newTestEnv(t)
	root := env.addAdmin(t, database.RoleSuperAdmin, "root@example.com")
	pool := worker.New(1, 4)
	t.Cleanup(pool.Stop)
	handler := env.superAdminHandler(pool)

	release := make(chan struct{})
	taskID, err := pool.Submit("slow", func(ctx context.Context) (any, error) {
		<-release
		return map[string]int{"indexed": 3}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	recorder := httptest.NewRecorder()
	handler.TaskEvents(recorder, requestWithChiParams(
		jsonRequest(t, http.MethodGet, "/api/superadmin/tasks/x/events", nil, identityOf(root)),
		map[string]string{"id": taskID}))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "text/event-stream")
	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: status\n") {
		t.Errorf("stream should open with a status event:\n%s", body)
	}
	if !strings.Contains(body, "event: completed\n") || !strings.Contains(body, `"indexed":3`) {
		t.Errorf("stream lacks the completion event:\n%s", body)
	}

	recorder = httptest.NewRecorder()
	handler.TaskEvents(recorder, requestWithChiParams(
		jsonRequest(t, http.MethodGet, "/api/superadmin/tasks/x/events", nil, identityOf(root)),
		map[string]string{"id": "missing"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "Task not found")
}

// fullQueue rejects every submission.
type fullQueue struct{}

func (fullQueue) Submit(string, worker.Func) (string, error) { return "", worker.ErrQueueFull }
func (fullQueue) Status(string) (worker.Task, error)        { return worker.Task{}, worker.ErrTaskNotFound }
func (fullQueue) List() []worker.Task                        { return nil }
func (fullQueue) QueueSize() int                             { return 0 }

func TestSuperAdminHandler_RebuildIndex_QueueFull(t *testing.T) {
	env := newTestEnv(t)
	root := env.addAdmin(t, database.RoleSuperAdmin, "root@example.com")

	recorder := httptest.NewRecorder()
	env.superAdminHandler(fullQueue{}).RebuildIndex(recorder,
		jsonRequest(t, http.MethodPost, "/api/superadmin/index/rebuild", nil, identityOf(root)))
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestSuperAdminHandler_Stats(t *testing.T) {
	env := newTestEnv(t)
	root := env.addAdmin(t, database.RoleSuperAdmin, "root@example.com")
	env.addAdmin(t, database.RoleAdmin, "a@example.com")
	handler := env.superAdminHandler(nil)

	recorder := httptest.NewRecorder()
	handler.Stats(recorder, jsonRequest(t, http.MethodGet, "/api/superadmin/stats", nil, identityOf(root)))
	assertStatusCode(t, recorder, http.StatusOK)
	var stats map[string]any
	parseJSONResponse(t, recorder, &stats)
	if stats["total_admins"] != float64(1) || stats["index"] == nil {
		t.Errorf("unexpected stats: %v", stats)
	}

	env.set.Accounts.CountError = errors.New("db down")
	recorder = httptest.NewRecorder()
	handler.Stats(recorder, jsonRequest(t, http.MethodGet, "/api/superadmin/stats", nil, identityOf(root)))
	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
