// Package camera manages server-side capture devices and network streams and
// defines the browser camera contract served to the web client.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// devRoot is where device nodes live. Tests point it at a temp dir.
var devRoot = "/dev"

// ErrFrameTooLarge is returned when no end-of-image marker shows up within
// the frame size limit.
var ErrFrameTooLarge = errors.New("mjpeg frame exceeds size limit")

const maxFrameSize = 8 << 20

// Source is a capture device index or a network stream URL.
type Source struct {
	Device int
	URL    string
}

// ParseSource accepts a non-negative device index ("0", "1") or an
// rtsp/rtsps/http/https URL.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Source{}, errors.New("source is required")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Source{}, fmt.Errorf("invalid device index %d", n)
		}
		return Source{Device: n}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return Source{}, fmt.Errorf("invalid source %q: %w", s, err)
	}
	switch u.Scheme {
	case "rtsp", "rtsps", "http", "https":
	default:
		return Source{}, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Source{}, fmt.Errorf("source %q has no host", s)
	}
	return Source{URL: s}, nil
}

// IsDevice reports whether the source is a local capture device.
func (s Source) IsDevice() bool {
	return s.URL == ""
}

// DevicePath returns the video4linux node for a device source.
func (s Source) DevicePath() string {
	return filepath.Join(devRoot, "video"+strconv.Itoa(s.Device))
}

func (s Source) String() string {
	if s.IsDevice() {
		return strconv.Itoa(s.Device)
	}
	return s.URL
}

// MarshalJSON renders device sources as numbers and URLs as strings.
func (s Source) MarshalJSON() ([]byte, error) {
	if s.IsDevice() {
		return []byte(strconv.Itoa(s.Device)), nil
	}
	return []byte(strconv.Quote(s.URL)), nil
}

// FrameReader yields JPEG frames until it is closed or the source fails.
type FrameReader interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Capturer opens a source for continuous capture.
type Capturer interface {
	Open(ctx context.Context, src Source, cfg Config) (FrameReader, error)
}

// MJPEGSplitter cuts a concatenated MJPEG byte stream into single JPEG
// images on their SOI (FF D8) and EOI (FF D9) markers.
type MJPEGSplitter struct {
	r   *bufio.Reader
	max int
}

// NewMJPEGSplitter wraps r.
func NewMJPEGSplitter(r io.Reader) *MJPEGSplitter {
	return &MJPEGSplitter{r: bufio.NewReaderSize(r, 64<<10), max: maxFrameSize}
}

// Next returns the next complete frame. Bytes before a start marker are
// discarded. A stream that ends mid-frame returns io.ErrUnexpectedEOF.
func (s *MJPEGSplitter) Next() ([]byte, error) {
	var prev byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	frame := []byte{0xFF, 0xD8}
	prev = 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		frame = append(frame, b)
		if prev == 0xFF && b == 0xD9 {
			return frame, nil
		}
		if len(frame) > s.max {
			return nil, ErrFrameTooLarge
		}
		prev = b
	}
}

// FFmpegCapturer captures through an ffmpeg subprocess writing MJPEG to
// stdout.
type FFmpegCapturer struct {
	Binary string
}

// NewFFmpegCapturer uses the ffmpeg found on PATH.
func NewFFmpegCapturer() *FFmpegCapturer {
	return &FFmpegCapturer{Binary: "ffmpeg"}
}

// Args builds the ffmpeg command line for src.
func (c *FFmpegCapturer) Args(src Source, cfg Config) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if src.IsDevice() {
		args = append(args,
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			"-r", strconv.Itoa(cfg.FPS),
			"-i", src.DevicePath(),
		)
	} else {
		if strings.HasPrefix(src.URL, "rtsp") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		args = append(args,
			"-i", src.URL,
			"-vf", fmt.Sprintf("scale=%d:%d", cfg.Width, cfg.Height),
			"-r", strconv.Itoa(cfg.FPS),
		)
	}
	return append(args, "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "3", "-")
}

// Open starts ffmpeg. The process dies with ctx or on Close.
func (c *FFmpegCapturer) Open(ctx context.Context, src Source, cfg Config) (FrameReader, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, c.Binary, c.Args(src, cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &ffmpegReader{
		cmd:      cmd,
		cancel:   cancel,
		splitter: NewMJPEGSplitter(stdout),
		stderr:   stderr,
		source:   src.String(),
	}, nil
}

type ffmpegReader struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	splitter *MJPEGSplitter
	stderr   *tailBuffer
	source   string
	once     sync.Once
	waitErr  error
}

func (r *ffmpegReader) ReadFrame() ([]byte, error) {
	frame, err := r.splitter.Next()
	if err == nil {
		return frame, nil
	}
	if msg := r.stderr.String(); msg != "" {
		return nil, fmt.Errorf("%w: %s", err, msg)
	}
	return nil, err
}

func (r *ffmpegReader) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.waitErr = r.cmd.Wait()
		logging.Debug("ffmpeg exited", "source", r.source, "error", r.waitErr)
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
