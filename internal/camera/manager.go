package camera

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/faceservice"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// StreamJPEGQuality is the quality frames are re-encoded at for clients.
const StreamJPEGQuality = 85

var (
	ErrCameraNotFound = errors.New("camera not found")
	ErrNoFrame        = errors.New("no frame available")
)

// Info describes a registered camera together with its health.
type Info struct {
	ID     int    `json:"id"`
	Source Source `json:"source"`
	Config Config `json:"config"`
	Health
}

// Manager owns every registered camera. IDs start at 1 and are never reused.
type Manager struct {
	capturer Capturer
	presets  config.CamerasConfig

	mu      sync.Mutex
	cameras map[int]*Stream
	nextID  int
}

// NewManager creates a manager that opens sources with capturer.
func NewManager(capturer Capturer, presets config.CamerasConfig) *Manager {
	return &Manager{
		capturer: capturer,
		presets:  presets,
		cameras:  make(map[int]*Stream),
		nextID:   1,
	}
}

// Add registers a camera without starting it. Zero fields in cfg take the
// default preset, the name defaults to "Camera N".
func (m *Manager) Add(src Source, cfg Config) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	def := m.presets.Preset("default")
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("Camera %d", id)
	}
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}

	m.cameras[id] = newStream(id, src, cfg, m.capturer)
	logging.Info("camera added", "camera_id", id, "source", src.String())
	return id
}

// AddEntries registers the cameras listed in CAMERAS_FILE.
func (m *Manager) AddEntries(entries []config.CameraEntry) error {
	for _, e := range entries {
		src, err := ParseSource(e.Source)
		if err != nil {
			return fmt.Errorf("camera %q: %w", e.Name, err)
		}
		m.Add(src, Config{Name: e.Name, Width: e.Width, Height: e.Height, FPS: e.FPS, Enabled: e.Enabled})
	}
	return nil
}

// ApplyPreset fills the size and rate of cfg from a named preset.
func (m *Manager) ApplyPreset(cfg *Config, name string) {
	p := m.presets.Preset(name)
	cfg.Width, cfg.Height, cfg.FPS = p.Width, p.Height, p.FPS
}

func (m *Manager) get(id int) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cameras[id]
	if !ok {
		return nil, ErrCameraNotFound
	}
	return s, nil
}

// Start starts one camera.
func (m *Manager) Start(id int) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.Start()
}

// Stop stops one camera.
func (m *Manager) Stop(id int) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

// Remove stops and unregisters a camera.
func (m *Manager) Remove(id int) error {
	m.mu.Lock()
	s, ok := m.cameras[id]
	delete(m.cameras, id)
	m.mu.Unlock()
	if !ok {
		return ErrCameraNotFound
	}
	s.Stop()
	logging.Info("camera removed", "camera_id", id)
	return nil
}

func (m *Manager) snapshot() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Stream, 0, len(m.cameras))
	for _, s := range m.cameras {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// List returns every camera ordered by ID.
func (m *Manager) List() []Info {
	streams := m.snapshot()
	out := make([]Info, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.info())
	}
	return out
}

// Get returns one camera.
func (m *Manager) Get(id int) (Info, error) {
	s, err := m.get(id)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

func (s *Stream) info() Info {
	return Info{ID: s.id, Source: s.source, Config: s.Config(), Health: s.Health()}
}

// Health returns the health of one camera.
func (m *Manager) Health(id int) (Health, error) {
	s, err := m.get(id)
	if err != nil {
		return Health{}, err
	}
	return s.Health(), nil
}

// Image decodes the latest frame.
func (m *Manager) Image(id int) (image.Image, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	frame := s.Frame()
	if frame == nil {
		return nil, ErrNoFrame
	}
	img, _, err := imaging.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("decode frame from camera %d: %w", id, err)
	}
	return img, nil
}

// JPEGFrame returns the latest frame re-encoded at StreamJPEGQuality.
func (m *Manager) JPEGFrame(id int) ([]byte, error) {
	img, err := m.Image(id)
	if err != nil {
		return nil, err
	}
	return imaging.EncodeJPEG(img, StreamJPEGQuality)
}

// AnalyzeQuality scores the latest frame for enrollment use.
func (m *Manager) AnalyzeQuality(id int) (faceservice.FrameScore, error) {
	img, err := m.Image(id)
	if err != nil {
		return faceservice.FrameScore{}, err
	}
	return faceservice.ScoreFrame(img), nil
}

// ConfigUpdate holds the fields a client may change. Nil fields are kept.
type ConfigUpdate struct {
	Name    *string `json:"name"`
	Width   *int    `json:"width"`
	Height  *int    `json:"height"`
	FPS     *int    `json:"fps"`
	Enabled *bool   `json:"enabled"`
}

// UpdateConfig applies u and restarts the camera so the change takes effect.
// A camera that was stopped stays stopped.
func (m *Manager) UpdateConfig(id int, u ConfigUpdate) (Config, error) {
	s, err := m.get(id)
	if err != nil {
		return Config{}, err
	}

	cfg := s.Config()
	if u.Name != nil && *u.Name != "" {
		cfg.Name = *u.Name
	}
	if u.Width != nil && *u.Width > 0 {
		cfg.Width = *u.Width
	}
	if u.Height != nil && *u.Height > 0 {
		cfg.Height = *u.Height
	}
	if u.FPS != nil && *u.FPS > 0 {
		cfg.FPS = *u.FPS
	}
	if u.Enabled != nil {
		enabled := *u.Enabled
		cfg.Enabled = &enabled
	}

	wasRunning := s.Running()
	s.Stop()
	s.setConfig(cfg)
	if wasRunning && cfg.IsEnabled() {
		if err := s.Start(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// StartAll starts every enabled camera and returns the failures.
func (m *Manager) StartAll() error {
	var errs []error
	for _, s := range m.snapshot() {
		if !s.Config().IsEnabled() {
			continue
		}
		if err := s.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every camera.
func (m *Manager) StopAll() {
	var wg sync.WaitGroup
	for _, s := range m.snapshot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
}
