package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/firmscope/backend/internal/models"
)

// Config holds all configuration for the server. It is built once in main
// and passed by reference; nothing mutates it afterwards.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Analysis AnalysisConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type StorageConfig struct {
	UploadDir     string
	ResultsDir    string
	ProjectsFile  string
	ProcessesFile string

	// MaxStorageGB is the quota across the upload and results trees, in
	// binary GB. Cleanup triggers above 90% of it.
	MaxStorageGB    float64
	CleanupDays     int
	CleanupInterval time.Duration
}

type AnalysisConfig struct {
	ExtractTimeout time.Duration
	DefaultOptions models.AnalysisOptions
}

type AuthConfig struct {
	APIKey            string
	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	SessionTTL        time.Duration
}

// Load reads configuration from environment variables and returns a
// validated Config. ADMIN_PASSWORD may be given either plain (hashed at
// load) or pre-hashed via ADMIN_PASSWORD_HASH.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PORT", 8080),
			Env:  envString("ENV", "development"),
		},
		Storage: StorageConfig{
			UploadDir:       envString("UPLOAD_DIR", "data/uploads"),
			ResultsDir:      envString("RESULTS_DIR", "data/results"),
			ProjectsFile:    envString("PROJECTS_FILE", "data/projects.json"),
			ProcessesFile:   envString("PROCESSES_FILE", "data/processes.json"),
			MaxStorageGB:    envFloat("MAX_STORAGE_GB", 50),
			CleanupDays:     envInt("AUTO_CLEANUP_DAYS", 30),
			CleanupInterval: envDuration("CLEANUP_INTERVAL", 24*time.Hour),
		},
		Analysis: AnalysisConfig{
			ExtractTimeout: envDuration("EXTRACT_TIMEOUT", 300*time.Second),
			DefaultOptions: models.AnalysisOptions{
				ExtractFilesystem:   envBool("DEFAULT_EXTRACT_FILESYSTEM", true),
				ScanVulnerabilities: envBool("DEFAULT_SCAN_VULNERABILITIES", true),
				IdentifyComponents:  envBool("DEFAULT_IDENTIFY_COMPONENTS", true),
				DeepAnalysis:        envBool("DEFAULT_DEEP_ANALYSIS", false),
			},
		},
		Auth: AuthConfig{
			APIKey:        os.Getenv("API_KEY"),
			AdminUsername: envString("ADMIN_USERNAME", "admin"),
			JWTSecret:     os.Getenv("JWT_SECRET"),
			SessionTTL:    envDuration("SESSION_TTL", 24*time.Hour),
		},
	}

	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		cfg.Auth.AdminPasswordHash = hash
	} else {
		password := envString("ADMIN_PASSWORD", "")
		if password == "" {
			return nil, fmt.Errorf("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		cfg.Auth.AdminPasswordHash = string(hashed)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Storage.MaxStorageGB <= 0 {
		return fmt.Errorf("MAX_STORAGE_GB must be positive, got %v", c.Storage.MaxStorageGB)
	}
	if c.Storage.CleanupDays < 0 {
		return fmt.Errorf("AUTO_CLEANUP_DAYS must not be negative, got %d", c.Storage.CleanupDays)
	}
	if !strings.HasSuffix(c.Storage.ProjectsFile, ".json") || !strings.HasSuffix(c.Storage.ProcessesFile, ".json") {
		return fmt.Errorf("record files must be .json paths")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
