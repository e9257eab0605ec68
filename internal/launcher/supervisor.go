package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// InheritedListenerFD is the descriptor workers find the shared socket on.
const InheritedListenerFD = 3

// WorkerIDEnv tells a worker its slot number.
const WorkerIDEnv = "ATTENDANCE_WORKER_ID"

var (
	// ErrAlreadyRunning is returned when another launcher holds the lock.
	ErrAlreadyRunning = errors.New("another launcher is already running for this instance directory")
	// ErrCrashLoop is returned when a worker keeps exiting right after start.
	ErrCrashLoop = errors.New("worker is crash looping")
)

// Supervisor binds the listening socket once and keeps Workers child
// processes serving on it.
type Supervisor struct {
	Addr     string       // host:port to bind when Listener is nil
	Listener net.Listener // optional pre-bound TCP listener
	Workers  int
	Timeout  time.Duration // grace period for children after a stop signal
	Command  string        // defaults to the running executable
	Args     []string
	Env      []string
	LockPath string

	RestartDelay time.Duration
	// A worker that exits within MinUptime MaxFastExits times in a row stops
	// the supervisor. A negative MaxFastExits restarts forever.
	MinUptime    time.Duration
	MaxFastExits int
	Stdout       io.Writer
	Stderr       io.Writer

	restarts atomic.Int64
}

// Restarts counts child processes started to replace one that exited.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

func (s *Supervisor) defaults() error {
	if s.Workers < 1 {
		s.Workers = 2
	}
	if s.Timeout <= 0 {
		s.Timeout = 120 * time.Second
	}
	if s.RestartDelay <= 0 {
		s.RestartDelay = time.Second
	}
	if s.MinUptime <= 0 {
		s.MinUptime = 10 * time.Second
	}
	if s.MaxFastExits == 0 {
		s.MaxFastExits = 5
	}
	if s.Stdout == nil {
		s.Stdout = os.Stdout
	}
	if s.Stderr == nil {
		s.Stderr = os.Stderr
	}
	if s.Command == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		s.Command = exe
	}
	return nil
}

// Run supervises workers until ctx is cancelled, then stops them and
// returns once they have exited. A crash-looping worker stops every worker
// and Run returns ErrCrashLoop.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.defaults(); err != nil {
		return err
	}

	if s.LockPath != "" {
		lock := flock.New(s.LockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logging.Warn("failed to release launcher lock", "error", err)
			}
		}()
	}

	ln := s.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.Addr, err)
		}
	}
	defer ln.Close()

	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("listener %T cannot be shared with workers", ln)
	}
	file, err := tcp.File()
	if err != nil {
		return fmt.Errorf("duplicate listener: %w", err)
	}
	defer file.Close()

	logging.Info("launcher listening", "addr", ln.Addr().String(), "workers", s.Workers, "timeout", s.Timeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		failMu  sync.Mutex
		failErr error
	)
	for i := range s.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.superviseWorker(ctx, i, file); err != nil {
				failMu.Lock()
				if failErr == nil {
					failErr = err
				}
				failMu.Unlock()
				cancel()
			}
		}()
	}
	wg.Wait()
	if failErr != nil {
		logging.Error("launcher giving up", "error", failErr)
		return failErr
	}
	logging.Info("all workers stopped")
	return nil
}

func (s *Supervisor) superviseWorker(ctx context.Context, slot int, listener *os.File) error {
	fastExits := 0
	for first := true; ctx.Err() == nil; first = false {
		if !first {
			s.restarts.Add(1)
		}

		cmd := exec.Command(s.Command, s.Args...)
		cmd.Stdout = s.Stdout
		cmd.Stderr = s.Stderr
		cmd.ExtraFiles = []*os.File{listener}
		cmd.Env = append(append(os.Environ(), s.Env...), WorkerIDEnv+"="+strconv.Itoa(slot))

		if err := cmd.Start(); err != nil {
			logging.Error("failed to start worker", "worker", slot, "error", err)
			if !sleepCtx(ctx, s.RestartDelay) {
				return nil
			}
			continue
		}
		started := time.Now()
		logging.Info("worker started", "worker", slot, "pid", cmd.Process.Pid)

		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()

		select {
		case err := <-exited:
			if ctx.Err() != nil {
				return nil
			}
			if time.Since(started) < s.MinUptime {
				fastExits++
			} else {
				fastExits = 0
			}
			if s.MaxFastExits > 0 && fastExits >= s.MaxFastExits {
				return fmt.Errorf("%w: worker %d exited %d times within %s of starting, last error: %v",
					ErrCrashLoop, slot, fastExits, s.MinUptime, err)
			}
			logging.Warn("worker exited, restarting", "worker", slot, "pid", cmd.Process.Pid,
				"error", err, "delay", s.RestartDelay)
			if !sleepCtx(ctx, s.RestartDelay) {
				return nil
			}
		case <-ctx.Done():
			s.stopWorker(slot, cmd, exited)
			return nil
		}
	}
	return nil
}

// stopWorker sends SIGTERM and kills the child if it outlives Timeout.
func (s *Supervisor) stopWorker(slot int, cmd *exec.Cmd, exited <-chan error) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}
	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()
	select {
	case <-exited:
		logging.Info("worker stopped", "worker", slot, "pid", cmd.Process.Pid)
	case <-timer.C:
		logging.Warn("worker did not stop in time, killing", "worker", slot, "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-exited
	}
}

// IsPrimaryWorker reports whether this process owns process-wide duties
// such as local cameras and index persistence. A server started outside the
// launcher is always primary.
func IsPrimaryWorker(getenv func(string) string) bool {
	id := getenv(WorkerIDEnv)
	return id == "" || id == "0"
}

// InheritedListener returns the socket a supervisor passed to this process.
func InheritedListener() (net.Listener, error) {
	f := os.NewFile(uintptr(InheritedListenerFD), "listener")
	if f == nil {
		return nil, errors.New("no inherited listener")
	}
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("inherited listener: %w", err)
	}
	_ = f.Close()
	return ln, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
