package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/camera"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

const (
	// writeWait is how long a websocket frame write may take
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	mjpegBoundary = "frame"
	defaultFPS    = 15
)

// CameraHandler manages server-side cameras and serves their frames.
type CameraHandler struct {
	cameras  *camera.Manager
	audit    *Auditor
	upgrader websocket.Upgrader
}

// NewCameraHandler creates a new camera handler
func NewCameraHandler(cameras *camera.Manager, audit *Auditor) *CameraHandler {
	return &CameraHandler{
		cameras: cameras,
		audit:   audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// cameraID parses {id}, answering 400 when it is not a number.
func cameraID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid camera ID")
		return 0, false
	}
	return id, true
}

// cameraFailure maps manager errors to responses.
func cameraFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, camera.ErrCameraNotFound):
		respondError(w, http.StatusNotFound, "Camera not found")
	case errors.Is(err, camera.ErrNoFrame):
		respondError(w, http.StatusServiceUnavailable, "No frame available")
	default:
		respondInternal(w, r, "camera operation failed", err)
	}
}

// List returns every registered camera with its health.
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"cameras": h.cameras.List()})
}

type addCameraRequest struct {
	Source    json.RawMessage `json:"source"`
	Name      string          `json:"name"`
	Preset    string          `json:"preset"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	FPS       int             `json:"fps"`
	AutoStart *bool           `json:"auto_start"`
}

// sourceString accepts the source as a JSON number or string.
func sourceString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Add registers a camera and starts it unless auto_start is false.
func (h *CameraHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addCameraRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	src, err := camera.ParseSource(sourceString(req.Source))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid camera source")
		return
	}

	cfg := camera.Config{Name: strings.TrimSpace(req.Name), Width: req.Width, Height: req.Height, FPS: req.FPS}
	if req.Preset != "" {
		h.cameras.ApplyPreset(&cfg, req.Preset)
	}
	id := h.cameras.Add(src, cfg)

	started := false
	if req.AutoStart == nil || *req.AutoStart {
		if err := h.cameras.Start(id); err != nil {
			logging.Warn("camera failed to start", "camera_id", id, "error", err)
		} else {
			started = true
		}
	}
	h.audit.Record(r, "add_camera", fmt.Sprintf("Camera %d: added source %s", id, src))

	info, _ := h.cameras.Get(id)
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Camera added",
		"camera":  info,
		"started": started,
	})
}

// Start starts one camera.
func (h *CameraHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if err := h.cameras.Start(id); err != nil {
		cameraFailure(w, r, err)
		return
	}
	h.audit.Record(r, "start_camera", fmt.Sprintf("Camera %d: started", id))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Camera started"})
}

// Stop stops one camera.
func (h *CameraHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if err := h.cameras.Stop(id); err != nil {
		cameraFailure(w, r, err)
		return
	}
	h.audit.Record(r, "stop_camera", fmt.Sprintf("Camera %d: stopped", id))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Camera stopped"})
}

// Delete stops and removes one camera.
func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if err := h.cameras.Remove(id); err != nil {
		cameraFailure(w, r, err)
		return
	}
	h.audit.Record(r, "remove_camera", fmt.Sprintf("Camera %d: removed", id))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Camera removed"})
}

// Health returns the health of every camera.
func (h *CameraHandler) Health(w http.ResponseWriter, r *http.Request) {
	infos := h.cameras.List()
	out := make([]camera.Health, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Health)
	}
	respondJSON(w, http.StatusOK, map[string]any{"cameras": out})
}

// CameraHealth returns one camera's health.
func (h *CameraHandler) CameraHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	health, err := h.cameras.Health(id)
	if err != nil {
		cameraFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, health)
}

// UpdateConfig changes a camera's name, size, rate or enabled flag.
func (h *CameraHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	var req camera.ConfigUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg, err := h.cameras.UpdateConfig(id, req)
	if err != nil {
		cameraFailure(w, r, err)
		return
	}
	h.audit.Record(r, "update_camera", fmt.Sprintf("Camera %d: %dx%d@%d", id, cfg.Width, cfg.Height, cfg.FPS))
	respondJSON(w, http.StatusOK, map[string]any{"message": "Camera updated", "config": cfg})
}

// AvailableDevices lists local capture devices that can be opened.
func (h *CameraHandler) AvailableDevices(w http.ResponseWriter, r *http.Request) {
	devices := camera.Discover(camera.DefaultDiscoverMax)
	if devices == nil {
		devices = []camera.Device{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// Quality scores the latest frame for enrollment use.
func (h *CameraHandler) Quality(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	score, err := h.cameras.AnalyzeQuality(id)
	if err != nil {
		cameraFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, score)
}

// Snapshot returns the latest frame as JPEG, or as a data URL when
// ?format=dataurl.
func (h *CameraHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "dataurl" {
		img, err := h.cameras.Image(id)
		if err != nil {
			cameraFailure(w, r, err)
			return
		}
		url, err := camera.EncodeDataURL(img)
		if err != nil {
			respondInternal(w, r, "encoding snapshot failed", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"image": url})
		return
	}

	frame, err := h.cameras.JPEGFrame(id)
	if err != nil {
		cameraFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

// frameInterval is the pause between pushed frames for a camera.
func (h *CameraHandler) frameInterval(id int) time.Duration {
	fps := defaultFPS
	if info, err := h.cameras.Get(id); err == nil && info.Config.FPS > 0 {
		fps = info.Config.FPS
	}
	return time.Second / time.Duration(fps)
}

// Stream serves the camera as multipart/x-mixed-replace MJPEG until the
// client disconnects or the camera is removed.
func (h *CameraHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if _, err := h.cameras.Get(id); err != nil {
		cameraFailure(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.frameInterval(id))
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, err := h.cameras.JPEGFrame(id)
			if errors.Is(err, camera.ErrCameraNotFound) {
				return
			}
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
				mjpegBoundary, len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// WebSocket pushes the camera's frames as binary JPEG messages.
func (h *CameraHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if _, err := h.cameras.Get(id); err != nil {
		cameraFailure(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "camera_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Reads only detect disconnects and keep pongs flowing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames := time.NewTicker(h.frameInterval(id))
	defer frames.Stop()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-frames.C:
			frame, err := h.cameras.JPEGFrame(id)
			if errors.Is(err, camera.ErrCameraNotFound) {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "camera removed"))
				return
			}
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

// Constraints returns the getUserMedia constraints a browser should try
// first and after an OverconstrainedError.
func (h *CameraHandler) Constraints(w http.ResponseWriter, r *http.Request) {
	ua := r.UserAgent()
	facing := camera.NormalizeFacing(r.URL.Query().Get("facing"))
	mobile := camera.IsMobileUserAgent(ua) || r.URL.Query().Get("mobile") == "1"
	respondJSON(w, http.StatusOK, map[string]any{
		"constraints":     camera.DefaultConstraints(facing, mobile),
		"fallback":        camera.FallbackConstraints(facing),
		"mobile":          mobile,
		"platform":        camera.DetectPlatform(ua),
		"capture_quality": camera.CaptureQuality,
	})
}

type cameraErrorReport struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ReportError classifies a browser camera failure and returns the text the
// client should show.
func (h *CameraHandler) ReportError(w http.ResponseWriter, r *http.Request) {
	var req cameraErrorReport
	if !decodeJSON(w, r, &req) {
		return
	}
	classified := camera.ClassifyError(req.Name, r.UserAgent())
	logging.Info("browser camera error",
		"kind", classified.Kind,
		"name", sanitizeForLog(req.Name),
		"message", sanitizeForLog(req.Message))
	if id := identity(r); id != nil {
		h.audit.Record(r, "camera_error", fmt.Sprintf("%s: %s", classified.Kind, sanitizeForLog(req.Name)))
	}
	respondJSON(w, http.StatusOK, classified)
}
