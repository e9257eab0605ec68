package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

const (
	defaultMaxErrors    = 10
	defaultRestartDelay = 2 * time.Second
	fpsWindow           = 30
	healthyFrameAge     = 5 * time.Second
	stopTimeout         = 3 * time.Second
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusStopped   = "stopped"
)

// Config is a camera's capture configuration.
type Config struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FPS     int    `json:"fps"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// IsEnabled treats an unset flag as enabled.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Health is a point-in-time view of a stream.
type Health struct {
	CameraID     int      `json:"camera_id"`
	IsRunning    bool     `json:"is_running"`
	TotalFrames  int64    `json:"total_frames"`
	FPS          float64  `json:"fps"`
	ErrorCount   int      `json:"error_count"`
	Restarts     int      `json:"restarts"`
	LastFrameAge *float64 `json:"last_frame_age"`
	Status       string   `json:"status"`
}

// Stream runs one capture loop and holds the latest frame.
type Stream struct {
	id       int
	source   Source
	capturer Capturer

	maxErrors    int
	restartDelay time.Duration
	errorPause   time.Duration
	now          func() time.Time

	mu           sync.RWMutex
	cfg          Config
	frame        []byte
	lastFrame    time.Time
	totalFrames  int64
	fps          float64
	fpsCheckedAt time.Time
	errorCount   int
	restarts     int
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

func newStream(id int, src Source, cfg Config, capturer Capturer) *Stream {
	return &Stream{
		id:           id,
		source:       src,
		capturer:     capturer,
		cfg:          cfg,
		maxErrors:    defaultMaxErrors,
		restartDelay: defaultRestartDelay,
		errorPause:   100 * time.Millisecond,
		now:          time.Now,
	}
}

// Config returns the current configuration.
func (s *Stream) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Stream) setConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Running reports whether the capture loop is active.
func (s *Stream) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start opens the source and launches the capture loop. Starting a running
// stream is a no-op.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		logging.Warn("camera already running", "camera_id", s.id)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	reader, err := s.capturer.Open(ctx, s.source, s.cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("open camera %d: %w", s.id, err)
	}

	s.running = true
	s.errorCount = 0
	s.fpsCheckedAt = s.now()
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, reader, s.done)

	logging.Info("camera started", "camera_id", s.id, "source", s.source.String())
	return nil
}

// Stop ends the capture loop and drops the last frame.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		logging.Warn("camera capture loop did not stop in time", "camera_id", s.id)
	}

	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
	logging.Info("camera stopped", "camera_id", s.id)
}

func (s *Stream) loop(ctx context.Context, reader FrameReader, done chan struct{}) {
	defer close(done)
	defer func() {
		if reader != nil {
			_ = reader.Close()
		}
	}()

	for ctx.Err() == nil {
		if reader == nil {
			reader = s.reopen(ctx)
			continue
		}

		data, err := reader.ReadFrame()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.recordFrame(data)
			continue
		}

		n := s.recordError()
		logging.Warn("camera read failed", "camera_id", s.id, "errors", n, "max", s.maxErrors, "error", err)
		if n < s.maxErrors {
			if !sleepCtx(ctx, s.errorPause) {
				return
			}
			continue
		}

		logging.Error("camera max errors reached, attempting restart", "camera_id", s.id)
		_ = reader.Close()
		reader = nil
		if !sleepCtx(ctx, s.restartDelay) {
			return
		}
	}
}

// reopen returns nil when the source still cannot be opened; the loop
// tries again after another restart delay.
func (s *Stream) reopen(ctx context.Context) FrameReader {
	s.mu.Lock()
	cfg := s.cfg
	s.restarts++
	s.errorCount = 0
	s.mu.Unlock()

	reader, err := s.capturer.Open(ctx, s.source, cfg)
	if err != nil {
		logging.Error("camera restart failed", "camera_id", s.id, "error", err)
		sleepCtx(ctx, s.restartDelay)
		return nil
	}
	logging.Info("camera restarted", "camera_id", s.id)
	return reader
}

func (s *Stream) recordFrame(data []byte) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = data
	s.lastFrame = now
	s.totalFrames++
	s.errorCount = 0
	if s.totalFrames%fpsWindow == 0 {
		if delta := now.Sub(s.fpsCheckedAt).Seconds(); delta > 0 {
			s.fps = fpsWindow / delta
		}
		s.fpsCheckedAt = now
	}
}

func (s *Stream) recordError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	return s.errorCount
}

// Frame returns the latest raw JPEG frame, or nil before the first frame.
func (s *Stream) Frame() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil
	}
	out := make([]byte, len(s.frame))
	copy(out, s.frame)
	return out
}

// Health reports counters and whether frames are still arriving.
func (s *Stream) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{
		CameraID:    s.id,
		IsRunning:   s.running,
		TotalFrames: s.totalFrames,
		FPS:         round2(s.fps),
		ErrorCount:  s.errorCount,
		Restarts:    s.restarts,
		Status:      StatusUnhealthy,
	}
	var age time.Duration
	if !s.lastFrame.IsZero() {
		age = s.now().Sub(s.lastFrame)
		secs := round2(age.Seconds())
		h.LastFrameAge = &secs
	}
	switch {
	case !s.running:
		h.Status = StatusStopped
	case h.LastFrameAge != nil && age < healthyFrameAge:
		h.Status = StatusHealthy
	}
	return h
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
