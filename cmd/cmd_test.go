package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/camera"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database/postgres"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/faceservice"
)

func TestFinishReport(t *testing.T) {
	ok := postgres.Report{Results: []postgres.StepResult{
		{Name: "add_column users.phone", Status: postgres.StepApplied},
		{Name: "idx_attendance_date", Status: postgres.StepSkipped},
	}}
	failing := postgres.Report{Results: []postgres.StepResult{
		{Name: "add_column users.phone", Status: postgres.StepApplied},
		{Name: "drop_not_null attendance.photo", Status: postgres.StepFailed, Err: errors.New("permission denied")},
	}}

	tests := []struct {
		name    string
		report  postgres.Report
		strict  bool
		wantErr error
		want    []string
	}{
		{"all applied", ok, true, nil, []string{"Database migration completed", "1 applied, 1 skipped, 0 failed"}},
		{"failure tolerated", failing, false, nil, []string{"Migration completed with warnings (1 failed)", "permission denied"}},
		{"failure under strict", failing, true, errMigrationWarnings, []string{"Migration completed with warnings"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := finishReport(&buf, tt.report, tt.strict)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			for _, s := range tt.want {
				if !strings.Contains(buf.String(), s) {
					t.Errorf("output lacks %q:\n%s", s, buf.String())
				}
			}
		})
	}
}

func TestApplyServeFlags(t *testing.T) {
	c := &cobra.Command{Use: "serve"}
	c.Flags().Int("port", 0, "")
	c.Flags().String("host", "", "")
	c.Flags().Duration("timeout", 0, "")
	if err := c.Flags().Parse([]string{"--port=8080", "--timeout=30s"}); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 5000, Timeout: 120 * time.Second}}
	applyServeFlags(c, cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, unset flag should keep the environment value", cfg.Server.Host)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Server.Timeout)
	}
}

type fakeSeeder struct {
	superHash, adminHash string
	err                  error
}

func (f *fakeSeeder) SeedDefaults(_ context.Context, superHash, adminHash string) (int, error) {
	f.superHash, f.adminHash = superHash, adminHash
	return 2, f.err
}

func TestSeedDefaultAccounts(t *testing.T) {
	seeder := &fakeSeeder{}
	if err := seedDefaultAccounts(t.Context(), seeder); err != nil {
		t.Fatal(err)
	}
	if !auth.CheckPassword(seeder.superHash, "superadmin123") {
		t.Error("super admin hash does not verify")
	}
	if !auth.CheckPassword(seeder.adminHash, "admin123") {
		t.Error("admin hash does not verify")
	}

	seeder = &fakeSeeder{err: errors.New("db down")}
	if err := seedDefaultAccounts(t.Context(), seeder); err == nil {
		t.Error("expected seeding error to propagate")
	}
}

func TestBuildIndex(t *testing.T) {
	rows := []database.PersonEmbedding{
		{ID: 3, PersonID: 1, PersonName: "Asha", Embedding: []float32{1, 0, 0}},
		{ID: 7, PersonID: 2, PersonName: "Ravi", Embedding: []float32{0, 1, 0}},
		{ID: 9, PersonID: 2, PersonName: "Ravi", Embedding: []float32{0, 0.9, 0.1}},
	}

	index, err := buildIndex(t.Context(), rows, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if index.Count() != 3 || index.MaxID() != 9 {
		t.Errorf("count=%d maxID=%d, want 3 and 9", index.Count(), index.MaxID())
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := buildIndex(ctx, rows, io.Discard); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPrintTables(t *testing.T) {
	var buf bytes.Buffer
	printPresets(&buf, map[string]config.CameraPreset{
		"low":     {Width: 320, Height: 240, FPS: 15},
		"default": {Width: 640, Height: 480, FPS: 30},
	})
	out := buf.String()
	if !strings.Contains(out, "320x240") || strings.Index(out, "default") > strings.Index(out, "low") {
		t.Errorf("unexpected presets table:\n%s", out)
	}

	buf.Reset()
	printDevices(&buf, []camera.Device{{Index: 0, Path: "/dev/video0", Name: "USB Camera"}})
	if !strings.Contains(buf.String(), "/dev/video0") {
		t.Errorf("unexpected devices table:\n%s", buf.String())
	}

	buf.Reset()
	printStats(&buf, faceservice.Stats{IndexEnabled: true, IndexedVectors: 4, Persons: 2, Embeddings: 4, Threshold: 0.75})
	if !strings.Contains(buf.String(), "0.75") || !strings.Contains(buf.String(), "Indexed vectors") {
		t.Errorf("unexpected stats table:\n%s", buf.String())
	}
}

func TestRunLaunchRejectsMissingSecrets(t *testing.T) {
	t.Setenv("FLASK_ENV", "production")
	t.Setenv("SECRET_KEY", "")
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("INSTANCE_FOLDER", t.TempDir())

	err := runLaunch(launchCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "SECRET_KEY must be set") {
		t.Fatalf("runLaunch() = %v, want a missing secret error", err)
	}
}
