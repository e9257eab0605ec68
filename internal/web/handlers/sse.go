package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/worker"
)

// taskPollInterval is how often a task stream re-reads the task state.
var taskPollInterval = time.Second

func isTaskTerminal(status worker.Status) bool {
	return status == worker.StatusCompleted || status == worker.StatusFailed
}

// setupSSEConnection finds the task and sets up SSE headers. On failure it
// writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter, r *http.Request, tasks TaskRunner) (worker.Task, http.Flusher, bool) {
	if tasks == nil {
		respondError(w, http.StatusNotFound, "Task not found")
		return worker.Task{}, nil, false
	}
	task, err := tasks.Status(chi.URLParam(r, "id"))
	if errors.Is(err, worker.ErrTaskNotFound) {
		respondError(w, http.StatusNotFound, "Task not found")
		return worker.Task{}, nil, false
	}
	if err != nil {
		respondInternal(w, r, "loading task failed", err)
		return worker.Task{}, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return worker.Task{}, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return task, flusher, true
}

// TaskEvents streams a task's state as server-sent events. A "status" event
// is sent on connect and on every change; the stream ends with a "completed"
// or "failed" event carrying the result.
func (h *SuperAdminHandler) TaskEvents(w http.ResponseWriter, r *http.Request) {
	task, flusher, ok := setupSSEConnection(w, r, h.tasks)
	if !ok {
		return
	}

	sendSSEEvent(w, flusher, "status", task)
	if isTaskTerminal(task.Status) {
		sendSSEEvent(w, flusher, string(task.Status), task)
		return
	}

	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()
	last := task.Status
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			current, err := h.tasks.Status(task.ID)
			if err != nil {
				// Cleaned up while streaming.
				sendSSEEvent(w, flusher, "error", map[string]string{"error": "Task not found"})
				return
			}
			if current.Status != last {
				last = current.Status
				sendSSEEvent(w, flusher, "status", current)
			}
			if isTaskTerminal(current.Status) {
				sendSSEEvent(w, flusher, string(current.Status), current)
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
