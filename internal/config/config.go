package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// HTTPBind is the interface the coordinator HTTP surface binds to.
	HTTPBind string `json:"http_bind,omitempty"`

	// HTTPPort is the port of the coordinator HTTP surface.
	HTTPPort int `json:"http_port,omitempty"`

	// AllowedOrigins lists origins allowed by CORS (e.g. "chrome-extension://<id>").
	// Arrays from file and env are merged.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFile enables rotating file output in addition to stderr.
	// Relative paths are resolved against the base directory.
	LogFile string `json:"log_file,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// ModelHost is the base URL of the local model host backing on-device capabilities.
	// Empty disables on-device capabilities entirely.
	ModelHost string `json:"model_host,omitempty"`

	// ModelName is the model used by the local host.
	ModelName string `json:"model_name,omitempty"`

	// CloudEndpoint is the base URL of the generative-content API.
	CloudEndpoint string `json:"cloud_endpoint,omitempty"`

	// CloudModel is the model used in cloud mode.
	CloudModel string `json:"cloud_model,omitempty"`

	// SummaryListLimit is the default number of summaries returned by listings.
	SummaryListLimit int `json:"summary_list_limit,omitempty"`

	// StreamSummaries enables streaming invocation for on-device summaries.
	StreamSummaries bool `json:"stream_summaries,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTPBind:         "127.0.0.1",
		HTTPPort:         7337,
		LogLevel:         "info",
		ModelHost:        "http://127.0.0.1:11434",
		ModelName:        "gemma3:1b",
		CloudEndpoint:    "https://generativelanguage.googleapis.com/v1beta",
		CloudModel:       "gemini-1.5-flash",
		SummaryListLimit: 50,
	}
}

// Load loads configuration from baseDir/config.json, then applies
// SCRIBBLY_* environment overrides (including those from baseDir/.env).
// Returns defaults if neither exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.scribbly.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}

	// .env values never override variables already set in the environment.
	if err := godotenv.Load(filepath.Join(baseDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = Merge(cfg, fromEnv())
	if cfg.LogFile != "" && !filepath.IsAbs(cfg.LogFile) {
		cfg.LogFile = filepath.Join(baseDir, cfg.LogFile)
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// fromEnv reads SCRIBBLY_* variables into a sparse Config.
// Unparseable numbers are ignored.
func fromEnv() *Config {
	cfg := &Config{
		HTTPBind:      os.Getenv("SCRIBBLY_HTTP_BIND"),
		LogLevel:      os.Getenv("SCRIBBLY_LOG_LEVEL"),
		LogFile:       os.Getenv("SCRIBBLY_LOG_FILE"),
		ModelHost:     os.Getenv("SCRIBBLY_MODEL_HOST"),
		ModelName:     os.Getenv("SCRIBBLY_MODEL_NAME"),
		CloudEndpoint: os.Getenv("SCRIBBLY_CLOUD_ENDPOINT"),
		CloudModel:    os.Getenv("SCRIBBLY_CLOUD_MODEL"),
	}
	if v, err := strconv.Atoi(os.Getenv("SCRIBBLY_HTTP_PORT")); err == nil {
		cfg.HTTPPort = v
	}
	if v, err := strconv.Atoi(os.Getenv("SCRIBBLY_SUMMARY_LIST_LIMIT")); err == nil {
		cfg.SummaryListLimit = v
	}
	if v, err := strconv.ParseBool(os.Getenv("SCRIBBLY_STREAM_SUMMARIES")); err == nil {
		cfg.StreamSummaries = v
	}
	if origins := os.Getenv("SCRIBBLY_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	return cfg
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.HTTPBind = firstString(overlay.HTTPBind, base.HTTPBind)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)
	result.LogFile = firstString(overlay.LogFile, base.LogFile)
	result.ModelHost = firstString(overlay.ModelHost, base.ModelHost)
	result.ModelName = firstString(overlay.ModelName, base.ModelName)
	result.CloudEndpoint = firstString(overlay.CloudEndpoint, base.CloudEndpoint)
	result.CloudModel = firstString(overlay.CloudModel, base.CloudModel)

	result.HTTPPort = firstInt(overlay.HTTPPort, base.HTTPPort)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.SummaryListLimit = firstInt(overlay.SummaryListLimit, base.SummaryListLimit)

	// Booleans: overlay wins if true, else base
	result.StreamSummaries = base.StreamSummaries || overlay.StreamSummaries

	result.AllowedOrigins = mergeStringSlice(base.AllowedOrigins, overlay.AllowedOrigins)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
