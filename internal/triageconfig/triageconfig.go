// Package triageconfig loads runtime configuration the way the teacher's
// internal/config.Load does: defaults, then a .env file under the state
// directory via github.com/joho/godotenv, then real environment variables
// taking final precedence.
package triageconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var defaultStateDir = "/var/lib/triage"

// Config is every externally tunable knob the pipeline reads at startup.
type Config struct {
	StateDir            string
	LockTimeout         time.Duration
	GraceWindow         time.Duration
	FDRInitialWealth    float64
	FDRTargetAlpha      float64
	WorkerConcurrency   int
	VerificationWindow  time.Duration
	MetricsPort         int
	StatusPort          int
	LogLevel            string
	LogFormat           string // "console" | "json"
	PriorsPath          string
	PolicyPath          string
}

func defaults() Config {
	return Config{
		StateDir:           defaultStateDir,
		LockTimeout:        30 * time.Minute,
		GraceWindow:        10 * time.Second,
		FDRInitialWealth:   1.0,
		FDRTargetAlpha:     0.05,
		WorkerConcurrency:  4,
		VerificationWindow: 5 * time.Second,
		MetricsPort:        9655,
		StatusPort:         9656,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Load builds a Config from defaults, a .env file under the resolved state
// directory (if present), and environment variables, in that precedence
// order (environment always wins, matching the teacher's Load()).
func Load() (Config, error) {
	cfg := defaults()

	if v := os.Getenv("TRIAGE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	cfg.PriorsPath = filepath.Join(cfg.StateDir, "priors.json")
	cfg.PolicyPath = filepath.Join(cfg.StateDir, "policy.json")

	envFile := filepath.Join(cfg.StateDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("triageconfig: load %s: %w", envFile, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TRIAGE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TRIAGE_PRIORS_PATH"); v != "" {
		cfg.PriorsPath = v
	}
	if v := os.Getenv("TRIAGE_POLICY_PATH"); v != "" {
		cfg.PolicyPath = v
	}

	var err error
	if cfg.LockTimeout, err = durationEnv("TRIAGE_LOCK_TIMEOUT", cfg.LockTimeout); err != nil {
		return err
	}
	if cfg.GraceWindow, err = durationEnv("TRIAGE_GRACE_WINDOW", cfg.GraceWindow); err != nil {
		return err
	}
	if cfg.VerificationWindow, err = durationEnv("TRIAGE_VERIFY_WINDOW", cfg.VerificationWindow); err != nil {
		return err
	}
	if cfg.FDRInitialWealth, err = floatEnv("TRIAGE_FDR_INITIAL_WEALTH", cfg.FDRInitialWealth); err != nil {
		return err
	}
	if cfg.FDRTargetAlpha, err = floatEnv("TRIAGE_FDR_TARGET_ALPHA", cfg.FDRTargetAlpha); err != nil {
		return err
	}
	if cfg.WorkerConcurrency, err = intEnv("TRIAGE_WORKER_CONCURRENCY", cfg.WorkerConcurrency); err != nil {
		return err
	}
	if cfg.MetricsPort, err = intEnv("TRIAGE_METRICS_PORT", cfg.MetricsPort); err != nil {
		return err
	}
	if cfg.StatusPort, err = intEnv("TRIAGE_STATUS_PORT", cfg.StatusPort); err != nil {
		return err
	}
	return nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("triageconfig: %s: %w", key, err)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("triageconfig: %s: %w", key, err)
	}
	return f, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("triageconfig: %s: %w", key, err)
	}
	return n, nil
}
