package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/go-refine/internal/otel"
)

// DefaultThreshold is the repetition limit of a feedback cycle.
const DefaultThreshold = 10

// Feedback capture modes.
const (
	FeedbackModeTUI   = "tui"
	FeedbackModeStdin = "stdin"
	FeedbackModeFile  = "file"
)

// LLMConfig selects the language model used by generation steps.
type LLMConfig struct {
	// Provider is one of "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// BaseURL is required for openai_compatible.
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// Candidates asks openai_compatible endpoints for n choices. Anything
	// but exactly one choice back fails the generation step.
	Candidates int `yaml:"candidates"`

	// Fallbacks are tried in order when the provider fails.
	Fallbacks []LLMConfig `yaml:"fallbacks"`
}

// FeedbackConfig controls how human feedback is captured between rounds.
type FeedbackConfig struct {
	Mode string `yaml:"mode"`
	// FileTimeoutSeconds bounds how long file mode waits for the feedback
	// file to change. 0 waits until the run is cancelled.
	FileTimeoutSeconds int `yaml:"file_timeout_seconds"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel           string `yaml:"log_level"`
	TargetDir          string `yaml:"target_dir"`
	ObservabilityDir   string `yaml:"observability_dir"`
	Threshold          int    `yaml:"threshold"`
	VersionedArtifacts bool   `yaml:"versioned_artifacts"`
	DBPath             string `yaml:"db_path"`

	LLM      LLMConfig      `yaml:"llm"`
	OTel     otel.Config    `yaml:"otel"`
	Feedback FeedbackConfig `yaml:"feedback"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// HomeDir returns REFINE_HOME, or ~/.refine.
func HomeDir() string {
	if override := os.Getenv("REFINE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".refine")
}

func defaultConfig() Config {
	return Config{
		LogLevel:         "info",
		TargetDir:        ".",
		ObservabilityDir: ".refine",
		Threshold:        DefaultThreshold,
		LLM: LLMConfig{
			Provider:       "google",
			TimeoutSeconds: 120,
		},
		OTel: otel.Config{
			Exporter:    "none",
			ServiceName: "refine",
		},
		Feedback: FeedbackConfig{Mode: FeedbackModeTUI},
	}
}

// Load reads <home>/config.yaml (a missing file yields defaults), applies env
// overrides and validates the result.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create refine home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("REFINE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("REFINE_TARGET_DIR"); raw != "" {
		cfg.TargetDir = raw
	}
	if raw := os.Getenv("REFINE_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Threshold = v
		}
	}
	if raw := os.Getenv("REFINE_FEEDBACK_MODE"); raw != "" {
		cfg.Feedback.Mode = raw
	}
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.TargetDir) == "" {
		cfg.TargetDir = "."
	}
	if strings.TrimSpace(cfg.ObservabilityDir) == "" {
		cfg.ObservabilityDir = ".refine"
	}
	cfg.ObservabilityDir = strings.TrimPrefix(cfg.ObservabilityDir, ".")
	cfg.ObservabilityDir = "." + cfg.ObservabilityDir
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	normalizeLLM(&cfg.LLM)
	for i := range cfg.LLM.Fallbacks {
		normalizeLLM(&cfg.LLM.Fallbacks[i])
	}
	cfg.Feedback.Mode = strings.ToLower(strings.TrimSpace(cfg.Feedback.Mode))
	if cfg.Feedback.Mode == "" {
		cfg.Feedback.Mode = FeedbackModeTUI
	}
	if cfg.DBPath == "" && cfg.HomeDir != "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "refine.db")
	}
}

func normalizeLLM(l *LLMConfig) {
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" || l.Provider == "gemini" {
		l.Provider = "google"
	}
	if l.TimeoutSeconds <= 0 {
		l.TimeoutSeconds = 120
	}
}

func validate(cfg Config) error {
	switch cfg.Feedback.Mode {
	case FeedbackModeTUI, FeedbackModeStdin, FeedbackModeFile:
	default:
		return fmt.Errorf("feedback.mode %q is not one of tui, stdin, file", cfg.Feedback.Mode)
	}
	if err := validateLLM("llm", cfg.LLM); err != nil {
		return err
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if len(fb.Fallbacks) > 0 {
			return fmt.Errorf("llm.fallbacks[%d]: fallbacks cannot be nested", i)
		}
		if err := validateLLM(fmt.Sprintf("llm.fallbacks[%d]", i), fb); err != nil {
			return err
		}
	}
	return nil
}

func validateLLM(field string, l LLMConfig) error {
	switch l.Provider {
	case "google", "anthropic", "openai":
	case "openai_compatible":
		if l.BaseURL == "" {
			return fmt.Errorf("%s.base_url is required for provider openai_compatible", field)
		}
	default:
		return fmt.Errorf("unknown %s.provider %q", field, l.Provider)
	}
	return nil
}

// ObservabilitySubdir returns the observability directory name without its
// leading dot, as the stream sink expects it.
func (c Config) ObservabilitySubdir() string {
	return strings.TrimPrefix(c.ObservabilityDir, ".")
}

// LLMAPIKey returns the API key for the configured provider.
func (c Config) LLMAPIKey() string {
	return c.LLM.ResolveAPIKey()
}

// ResolveAPIKey returns the provider key from the environment, falling back
// to api_key.
func (l LLMConfig) ResolveAPIKey() string {
	envMap := map[string]string{
		"google":            "GEMINI_API_KEY",
		"anthropic":         "ANTHROPIC_API_KEY",
		"openai":            "OPENAI_API_KEY",
		"openai_compatible": "OPENAI_API_KEY",
	}
	if envVar, ok := envMap[l.Provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if l.Provider == "google" {
		if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
			return v
		}
	}
	return l.APIKey
}

// Fingerprint returns a stable hash of the active config. Secrets are not
// part of it.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|target=%s|obs=%s|threshold=%d|versioned=%t|provider=%s|model=%s|base=%s|n=%d|feedback=%s|otel=%t:%s",
		c.LogLevel, c.TargetDir, c.ObservabilityDir, c.Threshold, c.VersionedArtifacts,
		c.LLM.Provider, c.LLM.Model, c.LLM.BaseURL, c.LLM.Candidates, c.Feedback.Mode, c.OTel.Enabled, c.OTel.Exporter)
	for _, fb := range c.LLM.Fallbacks {
		fmt.Fprintf(h, "|fallback=%s:%s:%s", fb.Provider, fb.Model, fb.BaseURL)
	}
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
