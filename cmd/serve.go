package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/camera"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/faceservice"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/launcher"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/mail"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/web"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/worker"
)

const (
	embeddingTimeout = 30 * time.Second
	taskQueueSize    = 100
	taskRetention    = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start one web server worker",
	Long: `Start a single Smart Attendance web server process.

The server exposes the JSON API under /api, the browser camera script and a
landing page. In production "attendance launch" starts several of these
workers on one shared socket.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (defaults to $PORT or 5000)")
	serveCmd.Flags().String("host", "", "Host to bind to (defaults to $HOST or 0.0.0.0)")
	serveCmd.Flags().Duration("timeout", 0, "Request timeout and graceful shutdown window (defaults to $WORKER_TIMEOUT)")
	serveCmd.Flags().Bool("inherit-listener", false, "Serve on the socket passed by the launcher as fd 3")
	serveCmd.Flags().Int("task-workers", 2, "Background task goroutines")
}

// accountSeeder is implemented by the PostgreSQL account repository.
type accountSeeder interface {
	SeedDefaults(ctx context.Context, superHash, adminHash string) (int, error)
}

// seedDefaultAccounts creates the initial super admin and admin logins.
func seedDefaultAccounts(ctx context.Context, seeder accountSeeder) error {
	superHash, err := auth.HashPassword("superadmin123")
	if err != nil {
		return err
	}
	adminHash, err := auth.HashPassword("admin123")
	if err != nil {
		return err
	}
	created, err := seeder.SeedDefaults(ctx, superHash, adminHash)
	if err != nil {
		return err
	}
	if created > 0 {
		logging.Warn("created default accounts, change their passwords", "accounts", created)
	}
	return nil
}

// applyServeFlags lets flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
	if timeout := mustGetDuration(cmd, "timeout"); timeout > 0 {
		cfg.Server.Timeout = timeout
	}
}

// registerCameras adds the CAMERAS_FILE entries and starts them. Failures
// are logged; the server runs without those cameras.
func registerCameras(cfg *config.Config, cameras *camera.Manager) {
	entries, err := cfg.Cameras.LoadEntries()
	if err != nil {
		logging.Warn("failed to load cameras file", "file", cfg.Cameras.File, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	if err := cameras.AddEntries(entries); err != nil {
		logging.Warn("failed to register cameras", "error", err)
	}
	if err := cameras.StartAll(); err != nil {
		logging.Warn("some cameras failed to start", "error", err)
	}
}

func serveListener(cmd *cobra.Command, cfg *config.Config) (net.Listener, error) {
	if mustGetBool(cmd, "inherit-listener") {
		return launcher.InheritedListener()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := launcher.EnsureDirs(cfg.Storage.Dirs()...); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primary := launcher.IsPrimaryWorker(os.Getenv)
	if !primary {
		logging.Info("secondary worker, local cameras and index saving are left to worker 0",
			"worker", os.Getenv(launcher.WorkerIDEnv))
	}

	pool, persons, stores, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	initPersonHNSW(ctx, persons, cfg.Database.HNSWIndexPath)
	if seeder, ok := stores.Accounts.(accountSeeder); ok {
		if err := seedDefaultAccounts(ctx, seeder); err != nil {
			logging.Warn("failed to seed default accounts", "error", err)
		}
	}

	client := faceservice.NewEmbeddingClient(cfg.Embedding.URL, embeddingTimeout)
	if err := client.Health(ctx); err != nil {
		logging.Warn("embedding service unreachable, enrollment and attendance will fail until it is up", "error", err)
	}
	recognizer := faceservice.NewRecognizer(persons, persons, cfg.Face.Threshold, cfg.Face.StrictThreshold)

	tasks := worker.New(mustGetInt(cmd, "task-workers"), taskQueueSize)
	tasks.StartCleanup(10*time.Minute, taskRetention)
	defer tasks.Stop()

	cameras := camera.NewManager(camera.NewFFmpegCapturer(), cfg.Cameras)
	if primary {
		registerCameras(cfg, cameras)
	}
	defer cameras.StopAll()

	server := web.NewServer(cfg, web.Deps{
		Stores:     stores,
		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecretKey, cfg.Auth.TokenTTL),
		Faces:      faceservice.NewService(client, cfg.Embedding.Dim),
		Index:      recognizer,
		Duplicates: faceservice.NewDuplicateChecker(persons, cfg.Face.DuplicateK, cfg.Face.DuplicateMin),
		Mailer:     mail.New(cfg.Email),
		Tasks:      tasks,
		Cameras:    cameras,
		Ping:       pool.Ping,
		Version:    Version,
	})

	ln, err := serveListener(cmd, cfg)
	if err != nil {
		return err
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logging.Info("shutting down", "grace", cfg.Server.Timeout)
		if primary {
			saveHNSWIndex()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Error("error during shutdown", "error", err)
		}
	}()

	fmt.Printf("Starting Smart Attendance on http://%s\n", ln.Addr())
	if err := server.Serve(ln); err != nil {
		return err
	}
	<-shutdownDone
	return nil
}
