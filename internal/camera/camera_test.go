package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			v := uint8((x*13 + y*29) % 256)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	data, err := imaging.EncodeJPEG(img, 90)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// fakeReader calls next for every frame until closed.
type fakeReader struct {
	next   func() ([]byte, error)
	closed chan struct{}
	once   sync.Once
}

func (r *fakeReader) ReadFrame() ([]byte, error) {
	select {
	case <-r.closed:
		return nil, io.EOF
	case <-time.After(time.Millisecond):
	}
	return r.next()
}

func (r *fakeReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type fakeCapturer struct {
	mu      sync.Mutex
	opens   atomic.Int32
	configs []Config
	openErr error
	next    func(open int) func() ([]byte, error)
}

func (c *fakeCapturer) Open(_ context.Context, _ Source, cfg Config) (FrameReader, error) {
	n := int(c.opens.Add(1))
	c.mu.Lock()
	c.configs = append(c.configs, cfg)
	c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &fakeReader{next: c.next(n), closed: make(chan struct{})}, nil
}

func (c *fakeCapturer) lastConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configs[len(c.configs)-1]
}

func framesOf(frame []byte) func(int) func() ([]byte, error) {
	return func(int) func() ([]byte, error) {
		return func() ([]byte, error) { return frame, nil }
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{in: "0", want: Source{Device: 0}},
		{in: " 2 ", want: Source{Device: 2}},
		{in: "rtsp://cam.local:554/stream1", want: Source{URL: "rtsp://cam.local:554/stream1"}},
		{in: "http://10.0.0.5/video.mjpg", want: Source{URL: "http://10.0.0.5/video.mjpg"}},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "ftp://host/x", wantErr: true},
		{in: "rtsp://", wantErr: true},
		{in: "webcam", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSource(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSource(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSource(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSourceJSON(t *testing.T) {
	b, _ := Source{Device: 1}.MarshalJSON()
	if string(b) != "1" {
		t.Errorf("device source = %s, want 1", b)
	}
	b, _ = Source{URL: "rtsp://h/s"}.MarshalJSON()
	if string(b) != `"rtsp://h/s"` {
		t.Errorf("url source = %s", b)
	}
}

func TestMJPEGSplitter(t *testing.T) {
	f1 := []byte{0xFF, 0xD8, 0x01, 0xFF, 0x02, 0xFF, 0xD9}
	f2 := []byte{0xFF, 0xD8, 0x03, 0x04, 0xFF, 0xD9}
	var stream []byte
	stream = append(stream, 0x00, 0x13)
	stream = append(stream, f1...)
	stream = append(stream, 0x55)
	stream = append(stream, f2...)
	stream = append(stream, 0xFF, 0xD8, 0x09)

	s := NewMJPEGSplitter(bytes.NewReader(stream))
	for i, want := range [][]byte{f1, f2} {
		got, err := s.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = % x, want % x", i, got, want)
		}
	}
	if _, err := s.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated frame error = %v, want ErrUnexpectedEOF", err)
	}

	empty := NewMJPEGSplitter(strings.NewReader(""))
	if _, err := empty.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("empty stream error = %v, want EOF", err)
	}
}

func TestMJPEGSplitterSizeLimit(t *testing.T) {
	data := append([]byte{0xFF, 0xD8}, make([]byte, 64)...)
	s := NewMJPEGSplitter(bytes.NewReader(data))
	s.max = 16
	if _, err := s.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("error = %v, want ErrFrameTooLarge", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	c := NewFFmpegCapturer()
	cfg := Config{Width: 640, Height: 480, FPS: 15}

	dev := strings.Join(c.Args(Source{Device: 1}, cfg), " ")
	for _, want := range []string{"-f v4l2", "-video_size 640x480", "-r 15", "-i /dev/video1", "-f image2pipe -c:v mjpeg"} {
		if !strings.Contains(dev, want) {
			t.Errorf("device args %q missing %q", dev, want)
		}
	}
	if !strings.HasSuffix(dev, " -") {
		t.Errorf("device args should write to stdout: %q", dev)
	}

	rtsp := strings.Join(c.Args(Source{URL: "rtsp://cam/1"}, cfg), " ")
	for _, want := range []string{"-rtsp_transport tcp", "-i rtsp://cam/1", "scale=640:480"} {
		if !strings.Contains(rtsp, want) {
			t.Errorf("rtsp args %q missing %q", rtsp, want)
		}
	}
	if strings.Contains(rtsp, "v4l2") {
		t.Errorf("rtsp args should not use v4l2: %q", rtsp)
	}
}

func TestStreamCapturesFrames(t *testing.T) {
	frame := testJPEG(t)
	capt := &fakeCapturer{next: framesOf(frame)}
	s := newStream(1, Source{Device: 0}, Config{Width: 64, Height: 48, FPS: 30}, capt)

	if h := s.Health(); h.Status != StatusStopped || h.LastFrameAge != nil {
		t.Errorf("initial health = %+v", h)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := capt.opens.Load(); n != 1 {
		t.Errorf("opens = %d, want 1", n)
	}

	waitFor(t, "first frame", func() bool { return s.Frame() != nil })
	h := s.Health()
	if !h.IsRunning || h.Status != StatusHealthy || h.TotalFrames == 0 || h.LastFrameAge == nil {
		t.Errorf("running health = %+v", h)
	}

	s.Stop()
	if s.Frame() != nil {
		t.Error("frame should be dropped on stop")
	}
	if h := s.Health(); h.IsRunning || h.Status != StatusStopped {
		t.Errorf("stopped health = %+v", h)
	}
}

func TestStreamStaleFrameIsUnhealthy(t *testing.T) {
	s := newStream(1, Source{}, Config{}, &fakeCapturer{})
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.running = true
	s.recordFrame([]byte{1})

	now = now.Add(6 * time.Second)
	h := s.Health()
	if h.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", h.Status)
	}
	if h.LastFrameAge == nil || *h.LastFrameAge != 6 {
		t.Errorf("last_frame_age = %v, want 6", h.LastFrameAge)
	}
}

func TestStreamFPSEstimate(t *testing.T) {
	s := newStream(1, Source{}, Config{}, &fakeCapturer{})
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	s.fpsCheckedAt = now
	s.now = func() time.Time {
		now = now.Add(100 * time.Millisecond)
		return now
	}

	for range 29 {
		s.recordFrame([]byte{1})
	}
	if s.fps != 0 {
		t.Errorf("fps before window = %v, want 0", s.fps)
	}
	s.recordFrame([]byte{1})
	if got := round2(s.fps); got != 10 {
		t.Errorf("fps = %v, want 10", got)
	}
}

func TestStreamRestartsAfterMaxErrors(t *testing.T) {
	frame := testJPEG(t)
	capt := &fakeCapturer{next: func(open int) func() ([]byte, error) {
		if open == 1 {
			return func() ([]byte, error) { return nil, errors.New("read failed") }
		}
		return func() ([]byte, error) { return frame, nil }
	}}
	s := newStream(3, Source{Device: 0}, Config{}, capt)
	s.maxErrors = 3
	s.restartDelay = time.Millisecond
	s.errorPause = 0

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, "restart", func() bool { return capt.opens.Load() >= 2 })
	waitFor(t, "frame after restart", func() bool { return s.Frame() != nil })
	h := s.Health()
	if h.Restarts != 1 {
		t.Errorf("restarts = %d, want 1", h.Restarts)
	}
	if h.ErrorCount != 0 {
		t.Errorf("error_count = %d, want 0 after a good frame", h.ErrorCount)
	}
}

func TestStreamStartFailure(t *testing.T) {
	s := newStream(1, Source{Device: 9}, Config{}, &fakeCapturer{openErr: errors.New("no device")})
	if err := s.Start(); err == nil {
		t.Fatal("expected error")
	}
	if s.Running() {
		t.Error("stream should not be running")
	}
}

func TestManagerAddDefaults(t *testing.T) {
	m := NewManager(&fakeCapturer{}, config.CamerasConfig{})

	id1 := m.Add(Source{Device: 0}, Config{})
	disabled := false
	id2 := m.Add(Source{URL: "rtsp://cam/1"}, Config{Name: "Lobby", FPS: 10, Enabled: &disabled})
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", id1, id2)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("List() = %d cameras, want 2", len(list))
	}
	c1 := list[0].Config
	if c1.Name != "Camera 1" || c1.Width != 1280 || c1.Height != 720 || c1.FPS != 30 || !c1.IsEnabled() {
		t.Errorf("camera 1 config = %+v", c1)
	}
	c2 := list[1].Config
	if c2.Name != "Lobby" || c2.FPS != 10 || c2.IsEnabled() {
		t.Errorf("camera 2 config = %+v", c2)
	}

	if err := m.Remove(id1); err != nil {
		t.Fatal(err)
	}
	if id3 := m.Add(Source{Device: 1}, Config{}); id3 != 3 {
		t.Errorf("id after remove = %d, want 3", id3)
	}
}

func TestManagerUnknownCamera(t *testing.T) {
	m := NewManager(&fakeCapturer{}, config.CamerasConfig{})
	checks := map[string]error{
		"Start":  m.Start(42),
		"Stop":   m.Stop(42),
		"Remove": m.Remove(42),
	}
	_, checks["Health"] = m.Health(42)
	_, checks["JPEGFrame"] = m.JPEGFrame(42)
	_, checks["UpdateConfig"] = m.UpdateConfig(42, ConfigUpdate{})
	for name, err := range checks {
		if !errors.Is(err, ErrCameraNotFound) {
			t.Errorf("%s error = %v, want ErrCameraNotFound", name, err)
		}
	}
}

func TestManagerFramesAndQuality(t *testing.T) {
	frame := testJPEG(t)
	m := NewManager(&fakeCapturer{next: framesOf(frame)}, config.CamerasConfig{})
	id := m.Add(Source{Device: 0}, Config{})

	if _, err := m.JPEGFrame(id); !errors.Is(err, ErrNoFrame) {
		t.Errorf("JPEGFrame before start error = %v, want ErrNoFrame", err)
	}
	if _, err := m.AnalyzeQuality(id); !errors.Is(err, ErrNoFrame) {
		t.Errorf("AnalyzeQuality before start error = %v, want ErrNoFrame", err)
	}

	if err := m.Start(id); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll()
	waitFor(t, "frame", func() bool {
		_, err := m.JPEGFrame(id)
		return err == nil
	})

	data, err := m.JPEGFrame(id)
	if err != nil {
		t.Fatal(err)
	}
	if imaging.DetectMIMEType(data) != "image/jpeg" {
		t.Errorf("JPEGFrame is not a JPEG")
	}
	score, err := m.AnalyzeQuality(id)
	if err != nil {
		t.Fatal(err)
	}
	if score.Overall < 0 || score.Overall > 100 {
		t.Errorf("overall score = %v out of range", score.Overall)
	}
}

func TestManagerUpdateConfigRestarts(t *testing.T) {
	capt := &fakeCapturer{next: framesOf(testJPEG(t))}
	m := NewManager(capt, config.CamerasConfig{})
	id := m.Add(Source{Device: 0}, Config{})
	if err := m.Start(id); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll()

	width, name := 640, "Gate"
	cfg, err := m.UpdateConfig(id, ConfigUpdate{Width: &width, Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 640 || cfg.Height != 720 || cfg.Name != "Gate" {
		t.Errorf("updated config = %+v", cfg)
	}
	if n := capt.opens.Load(); n != 2 {
		t.Errorf("opens = %d, want 2 (restart)", n)
	}
	if got := capt.lastConfig().Width; got != 640 {
		t.Errorf("reopened with width %d, want 640", got)
	}

	m.StopAll()
	if _, err := m.UpdateConfig(id, ConfigUpdate{Width: &width}); err != nil {
		t.Fatal(err)
	}
	if n := capt.opens.Load(); n != 2 {
		t.Errorf("stopped camera was restarted: opens = %d", n)
	}
}

func TestManagerStartAllSkipsDisabled(t *testing.T) {
	capt := &fakeCapturer{next: framesOf(testJPEG(t))}
	m := NewManager(capt, config.CamerasConfig{})
	off := false
	m.Add(Source{Device: 0}, Config{})
	m.Add(Source{Device: 1}, Config{Enabled: &off})

	if err := m.StartAll(); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll()
	running := 0
	for _, c := range m.List() {
		if c.IsRunning {
			running++
		}
	}
	if running != 1 {
		t.Errorf("running cameras = %d, want 1", running)
	}
}

func TestManagerAddEntries(t *testing.T) {
	m := NewManager(&fakeCapturer{}, config.CamerasConfig{})
	err := m.AddEntries([]config.CameraEntry{
		{Source: "0", Name: "Desk", Width: 640, Height: 480, FPS: 15},
		{Source: "rtsp://cam/2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	list := m.List()
	if len(list) != 2 || list[0].Config.Name != "Desk" || list[1].Config.Name != "Camera 2" {
		t.Errorf("entries = %+v", list)
	}
	if err := m.AddEntries([]config.CameraEntry{{Source: "bogus"}}); err == nil {
		t.Error("expected error for invalid source")
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	sys := t.TempDir()
	oldDev, oldSys := devRoot, sysRoot
	devRoot, sysRoot = dir, sys
	t.Cleanup(func() { devRoot, sysRoot = oldDev, oldSys })

	for _, name := range []string{"video0", "video2", "video7"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(sys, "video2"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sys, "video2", "name"), []byte("USB Camera\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := Discover(0)
	var indices []int
	for _, d := range got {
		indices = append(indices, d.Index)
	}
	if !slices.Equal(indices, []int{0, 2}) {
		t.Fatalf("indices = %v, want [0 2]", indices)
	}
	if got[0].Name != "Device 0" || got[1].Name != "USB Camera" {
		t.Errorf("names = %q, %q", got[0].Name, got[1].Name)
	}
}

func TestParsePermissionState(t *testing.T) {
	tests := map[string]PermissionState{
		"granted": PermissionGranted,
		"DENIED":  PermissionDenied,
		" prompt": PermissionPrompt,
		"":        PermissionUnknown,
		"blocked": PermissionUnknown,
	}
	for in, want := range tests {
		if got := ParsePermissionState(in); got != want {
			t.Errorf("ParsePermissionState(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultConstraints(t *testing.T) {
	desktop := DefaultConstraints("user", false)
	if desktop.Audio || desktop.Video.FacingMode != FacingUser {
		t.Errorf("desktop = %+v", desktop)
	}
	if *desktop.Video.Width != (Range{1280, 1920}) || *desktop.Video.Height != (Range{720, 1080}) ||
		*desktop.Video.FrameRate != (Range{30, 60}) {
		t.Errorf("desktop ranges = %+v %+v %+v", *desktop.Video.Width, *desktop.Video.Height, *desktop.Video.FrameRate)
	}

	mobile := DefaultConstraints("Environment", true)
	if mobile.Video.FacingMode != FacingEnvironment {
		t.Errorf("facing = %q", mobile.Video.FacingMode)
	}
	if *mobile.Video.Width != (Range{640, 1280}) || *mobile.Video.Height != (Range{480, 720}) ||
		*mobile.Video.FrameRate != (Range{24, 30}) {
		t.Errorf("mobile ranges = %+v %+v %+v", *mobile.Video.Width, *mobile.Video.Height, *mobile.Video.FrameRate)
	}

	fb := FallbackConstraints("sideways")
	if fb.Video.FacingMode != FacingUser || fb.Video.Width != nil || fb.Video.FrameRate != nil {
		t.Errorf("fallback = %+v", fb)
	}
}

func TestClassifyError(t *testing.T) {
	const (
		iphone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"
		android = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120 Mobile Safari/537.36"
		desktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120"
	)
	tests := []struct {
		name, ua    string
		kind        ErrorKind
		remediation string
	}{
		{"NotAllowedError", iphone, ErrorPermissionDenied, "Settings > Safari"},
		{"PermissionDeniedError", android, ErrorPermissionDenied, "lock icon"},
		{"SecurityError", desktop, ErrorPermissionDenied, "camera icon"},
		{"NotFoundError", desktop, ErrorNotFound, "Connect a camera"},
		{"DevicesNotFoundError", desktop, ErrorNotFound, ""},
		{"NotReadableError", desktop, ErrorBusy, "Close other apps"},
		{"TrackStartError", android, ErrorBusy, ""},
		{"AbortError", desktop, ErrorBusy, ""},
		{"OverconstrainedError", desktop, ErrorOverconstrained, ""},
		{"ConstraintNotSatisfiedError", desktop, ErrorOverconstrained, ""},
		{"TypeError", desktop, ErrorUnsupported, ""},
		{"NotSupportedError", desktop, ErrorUnsupported, ""},
		{"WeirdError", desktop, ErrorUnknown, ""},
		{"", desktop, ErrorUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.name, tt.ua)
			if got.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", got.Kind, tt.kind)
			}
			if got.Message == "" {
				t.Error("message is empty")
			}
			if !strings.Contains(got.Remediation, tt.remediation) {
				t.Errorf("remediation %q does not contain %q", got.Remediation, tt.remediation)
			}
			if !strings.HasPrefix(got.Error(), got.Message) {
				t.Errorf("Error() = %q", got.Error())
			}
		})
	}
}

func TestCaptureDataURL(t *testing.T) {
	img, _, err := imaging.Decode(testJPEG(t))
	if err != nil {
		t.Fatal(err)
	}
	url, err := EncodeDataURL(img)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Fatalf("data URL prefix = %q", url[:min(len(url), 30)])
	}
	data, err := DecodeDataURL(url)
	if err != nil {
		t.Fatal(err)
	}
	if imaging.DetectMIMEType(data) != "image/jpeg" {
		t.Error("decoded payload is not a JPEG")
	}
	if imaging.JPEGQuality(CaptureQuality) != 92 {
		t.Errorf("capture quality = %d, want 92", imaging.JPEGQuality(CaptureQuality))
	}
}
