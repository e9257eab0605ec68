package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed cameras.yaml
var camerasYAML []byte

// Development defaults. Production refuses to start with these.
const (
	devSecretKey    = "dev-secret-key-change-in-production"
	devJWTSecretKey = "jwt-secret-key-change-in-production"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Face      FaceConfig
	Email     EmailConfig
	Cameras   CamerasConfig
	LogLevel  string
}

type ServerConfig struct {
	Port           int
	Host           string
	Workers        int           // process count for the launcher (WEB_CONCURRENCY)
	Timeout        time.Duration // request timeout and graceful stop window
	Env            string        // FLASK_ENV: development or production
	AllowedOrigins string
	Railway        string // RAILWAY_ENVIRONMENT, empty outside Railway
}

// IsProduction reports whether the service runs with production settings.
func (c *ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

type AuthConfig struct {
	SecretKey    string
	JWTSecretKey string
	TokenTTL     time.Duration
}

type DatabaseConfig struct {
	URL            string // PostgreSQL connection URL
	MaxOpenConns   int    // Maximum open connections (default 25)
	MaxIdleConns   int    // Maximum idle connections (default 5)
	HNSWIndexPath  string // Path to persist the person embedding index
	RailwayEnv     string
	usedPrivateURL bool
}

type StorageConfig struct {
	UploadDir      string
	FaceDataDir    string
	VectorIndexDir string
	InstanceDir    string
}

// Dirs returns every runtime directory in creation order.
func (c *StorageConfig) Dirs() []string {
	return []string{c.UploadDir, c.FaceDataDir, c.VectorIndexDir, c.InstanceDir}
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type FaceConfig struct {
	Threshold       float64 // cosine similarity required for a match
	StrictThreshold float64 // used when marking attendance
	DuplicateK      int
	DuplicateMin    float64
}

type EmailConfig struct {
	Enabled  bool
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	FromName string
	AppURL   string
}

type CamerasConfig struct {
	Presets map[string]CameraPreset `yaml:"presets"`
	File    string                  `yaml:"-"`
}

// CameraPreset is a named capture profile.
type CameraPreset struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// CameraEntry is one camera registered at startup from CAMERAS_FILE.
type CameraEntry struct {
	Source  string `yaml:"source"`
	Name    string `yaml:"name"`
	Preset  string `yaml:"preset"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	FPS     int    `yaml:"fps"`
	Enabled *bool  `yaml:"enabled"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// ResolvePort returns PORT when it is a valid TCP port, otherwise 5000.
func ResolvePort(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 || n > 65535 {
		return 5000
	}
	return n
}

// NormalizeDatabaseURL rewrites the postgres:// scheme to postgresql://.
func NormalizeDatabaseURL(raw string) string {
	if rest, ok := strings.CutPrefix(raw, "postgres://"); ok {
		return "postgresql://" + rest
	}
	return raw
}

func Load() *Config {
	var cams CamerasConfig
	if err := yaml.Unmarshal(camerasYAML, &cams); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded cameras.yaml: " + err.Error())
	}
	cams.File = os.Getenv("CAMERAS_FILE")

	dbURL := os.Getenv("DATABASE_URL")
	usedPrivate := false
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_PRIVATE_URL")
		usedPrivate = dbURL != ""
	}

	secret := envString("SECRET_KEY", devSecretKey)
	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		jwtSecret = secret
		if secret == devSecretKey {
			jwtSecret = devJWTSecretKey
		}
	}

	vectorDir := envString("VECTOR_INDEX_FOLDER", "vector_index")

	return &Config{
		Server: ServerConfig{
			Port:           ResolvePort(os.Getenv("PORT")),
			Host:           envString("HOST", "0.0.0.0"),
			Workers:        envInt("WEB_CONCURRENCY", 2),
			Timeout:        time.Duration(envInt("WORKER_TIMEOUT", 120)) * time.Second,
			Env:            envString("FLASK_ENV", "development"),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
			Railway:        os.Getenv("RAILWAY_ENVIRONMENT"),
		},
		Auth: AuthConfig{
			SecretKey:    secret,
			JWTSecretKey: jwtSecret,
			TokenTTL:     time.Duration(envInt("JWT_ACCESS_TOKEN_EXPIRES", 24)) * time.Hour,
		},
		Database: DatabaseConfig{
			URL:            NormalizeDatabaseURL(dbURL),
			MaxOpenConns:   envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath:  envString("HNSW_INDEX_PATH", vectorDir+"/persons.hnsw"),
			RailwayEnv:     os.Getenv("RAILWAY_ENVIRONMENT"),
			usedPrivateURL: usedPrivate,
		},
		Storage: StorageConfig{
			UploadDir:      envString("UPLOAD_FOLDER", "uploads"),
			FaceDataDir:    envString("FACE_DATA_FOLDER", "face_data"),
			VectorIndexDir: vectorDir,
			InstanceDir:    envString("INSTANCE_FOLDER", "instance"),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Face: FaceConfig{
			Threshold:       envFloat("RECOGNITION_THRESHOLD", 0.75),
			StrictThreshold: envFloat("RECOGNITION_STRICT_THRESHOLD", 0.85),
			DuplicateK:      envInt("DUPLICATE_CHECK_K", 5),
			DuplicateMin:    envFloat("DUPLICATE_THRESHOLD", 0.6),
		},
		Email: EmailConfig{
			Enabled:  envBool("EMAIL_ENABLED", false),
			SMTPHost: envString("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort: envInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     envString("FROM_EMAIL", "noreply@smartattendance.com"),
			FromName: envString("FROM_NAME", "Smart Attendance System"),
			AppURL:   envString("APP_URL", "http://localhost:5000"),
		},
		Cameras:  cams,
		LogLevel: envString("LOG_LEVEL", "info"),
	}
}

// Validate rejects development secrets when running in production.
func (c *Config) Validate() error {
	if !c.Server.IsProduction() {
		return nil
	}
	var errs []error
	if c.Auth.SecretKey == devSecretKey {
		errs = append(errs, errors.New("SECRET_KEY must be set in production"))
	}
	if c.Auth.JWTSecretKey == devJWTSecretKey || c.Auth.JWTSecretKey == devSecretKey {
		errs = append(errs, errors.New("JWT_SECRET_KEY must be set in production"))
	}
	return errors.Join(errs...)
}

// Source names the variable the database URL came from.
func (c *DatabaseConfig) Source() string {
	if c.usedPrivateURL {
		return "DATABASE_PRIVATE_URL"
	}
	return "DATABASE_URL"
}

// CheckReachable rejects Railway private hostnames outside of Railway, where
// they never resolve.
func (c *DatabaseConfig) CheckReachable() error {
	if c.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parsing database URL: %w", err)
	}
	if strings.HasSuffix(u.Hostname(), ".railway.internal") && c.RailwayEnv == "" {
		return fmt.Errorf("database host %s is only reachable inside Railway; "+
			"run this command with `railway run` or use the public DATABASE_URL", u.Hostname())
	}
	return nil
}

// Redacted returns the database URL with the password masked.
func (c *DatabaseConfig) Redacted() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// Preset returns a camera preset by name, falling back to "default".
func (c *CamerasConfig) Preset(name string) CameraPreset {
	if p, ok := c.Presets[name]; ok {
		return p
	}
	if p, ok := c.Presets["default"]; ok {
		return p
	}
	return CameraPreset{Width: 1280, Height: 720, FPS: 30}
}

// LoadEntries reads the optional CAMERAS_FILE list.
func (c *CamerasConfig) LoadEntries() ([]CameraEntry, error) {
	if c.File == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return nil, fmt.Errorf("reading cameras file: %w", err)
	}
	var doc struct {
		Cameras []CameraEntry `yaml:"cameras"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cameras file: %w", err)
	}
	for i := range doc.Cameras {
		e := &doc.Cameras[i]
		if e.Source == "" {
			return nil, fmt.Errorf("camera %d: source is required", i+1)
		}
		if e.Preset != "" || e.Width == 0 {
			p := c.Preset(e.Preset)
			if e.Width == 0 {
				e.Width = p.Width
			}
			if e.Height == 0 {
				e.Height = p.Height
			}
			if e.FPS == 0 {
				e.FPS = p.FPS
			}
		}
	}
	return doc.Cameras, nil
}
