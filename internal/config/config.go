package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL      = "http://127.0.0.1:7480"
	DefaultDBFileName  = ".filevault.db"
	DefaultBlobDirName = ".filevault-blobs"
	DefaultLogLevel    = "debug"

	DefaultTokenTTL                 = time.Hour
	DefaultMaxUploadBytes     int64 = 512 * 1024 * 1024
	DefaultMultipartMaxMemory int64 = 8 * 1024 * 1024
	DefaultDedupeScope              = "global"
	DefaultCompression              = "none"
	DefaultReclaim                  = "immediate"
	DefaultGCInterval               = time.Hour
	DefaultGCBatchSize              = 500
	DefaultGCTempGrace              = time.Hour

	configFileName           = ".filevault.toml"
	configDirEnvKey          = "FILEVAULT_CONFIG_DIR"
	trustProjectConfigEnvKey = "FILEVAULT_TRUST_PROJECT_CONFIG"
)

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q", string(text))
	}
	*d = Duration(parsed)
	return nil
}

// AuthConfig controls token issuance.
type AuthConfig struct {
	TokenTTL    Duration `toml:"token_ttl"`
	TokenSecret string   `toml:"token_secret"`
	AdminToken  string   `toml:"admin_token"`
}

// UploadConfig bounds request bodies on the upload route.
type UploadConfig struct {
	MaxUploadBytes     int64 `toml:"max_upload_bytes"`
	MultipartMaxMemory int64 `toml:"multipart_max_memory"`
}

// BlobConfig controls deduplication and storage of blob bytes.
type BlobConfig struct {
	DedupeScope string `toml:"dedupe_scope"`
	Compression string `toml:"compression"`
	Reclaim     string `toml:"reclaim"`
}

// GCConfig controls the background reconciliation loop.
type GCConfig struct {
	Interval  Duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	TempGrace Duration `toml:"temp_grace"`
}

// Config defines runtime configuration for filevault.
type Config struct {
	APIURL                   string       `toml:"api_url"`
	DBPath                   string       `toml:"db_path"`
	BlobRoot                 string       `toml:"blob_root"`
	LogLevel                 string       `toml:"log_level"`
	Auth                     AuthConfig   `toml:"auth"`
	Uploads                  UploadConfig `toml:"uploads"`
	Blobs                    BlobConfig   `toml:"blobs"`
	GC                       GCConfig     `toml:"gc"`
	TrustedProjectConfigPath string       `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:   DefaultAPIURL,
		LogLevel: DefaultLogLevel,
		Auth: AuthConfig{
			TokenTTL: Duration(DefaultTokenTTL),
		},
		Uploads: UploadConfig{
			MaxUploadBytes:     DefaultMaxUploadBytes,
			MultipartMaxMemory: DefaultMultipartMaxMemory,
		},
		Blobs: BlobConfig{
			DedupeScope: DefaultDedupeScope,
			Compression: DefaultCompression,
			Reclaim:     DefaultReclaim,
		},
		GC: GCConfig{
			Interval:  Duration(DefaultGCInterval),
			BatchSize: DefaultGCBatchSize,
			TempGrace: Duration(DefaultGCTempGrace),
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"api_url",
	"db_path",
	"blob_root",
	"log_level",
	"auth.token_ttl",
	"auth.token_secret",
	"auth.admin_token",
	"uploads.max_upload_bytes",
	"uploads.multipart_max_memory",
	"blobs.dedupe_scope",
	"blobs.compression",
	"blobs.reclaim",
	"gc.interval",
	"gc.batch_size",
	"gc.temp_grace",
}

var secretKeys = map[string]bool{
	"auth.token_secret": true,
	"auth.admin_token":  true,
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// IsSecretKey reports whether key holds a credential that listings should mask.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "db_path":
		return c.DBPath, nil
	case "blob_root":
		return c.BlobRoot, nil
	case "log_level":
		return c.LogLevel, nil
	case "auth.token_ttl":
		return c.Auth.TokenTTL.String(), nil
	case "auth.token_secret":
		return c.Auth.TokenSecret, nil
	case "auth.admin_token":
		return c.Auth.AdminToken, nil
	case "uploads.max_upload_bytes":
		return strconv.FormatInt(c.Uploads.MaxUploadBytes, 10), nil
	case "uploads.multipart_max_memory":
		return strconv.FormatInt(c.Uploads.MultipartMaxMemory, 10), nil
	case "blobs.dedupe_scope":
		return c.Blobs.DedupeScope, nil
	case "blobs.compression":
		return c.Blobs.Compression, nil
	case "blobs.reclaim":
		return c.Blobs.Reclaim, nil
	case "gc.interval":
		return c.GC.Interval.String(), nil
	case "gc.batch_size":
		return strconv.Itoa(c.GC.BatchSize), nil
	case "gc.temp_grace":
		return c.GC.TempGrace.String(), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if IsSecretKey(key) {
		mode = 0o600
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	applyEnv(&cfg)

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	if cfg.BlobRoot == "" && cfg.DBPath != "" {
		cfg.BlobRoot = filepath.Join(filepath.Dir(cfg.DBPath), DefaultBlobDirName)
	}

	cfg.normalizeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("FILEVAULT_API_URL")); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FILEVAULT_DB")); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("FILEVAULT_BLOB_ROOT")); v != "" {
		cfg.BlobRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("FILEVAULT_TOKEN_SECRET")); v != "" {
		cfg.Auth.TokenSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("FILEVAULT_ADMIN_TOKEN")); v != "" {
		cfg.Auth.AdminToken = v
	}
	if v := strings.TrimSpace(os.Getenv("FILEVAULT_DEDUPE_SCOPE")); v != "" {
		cfg.Blobs.DedupeScope = v
	}
}

// Validate rejects enum values the server cannot act on.
func (c *Config) Validate() error {
	for key, value := range map[string]string{
		"blobs.dedupe_scope": c.Blobs.DedupeScope,
		"blobs.compression":  c.Blobs.Compression,
		"blobs.reclaim":      c.Blobs.Reclaim,
	} {
		if _, err := parseSetValue(key, value); err != nil {
			return err
		}
	}
	return nil
}

var enumValues = map[string][]string{
	"blobs.dedupe_scope": {"global", "owner"},
	"blobs.compression":  {"none", "zstd"},
	"blobs.reclaim":      {"immediate", "deferred"},
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "uploads.max_upload_bytes", "uploads.multipart_max_memory":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "gc.batch_size":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "auth.token_ttl", "gc.interval", "gc.temp_grace":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a duration like 30m or 1h", key)
		}
		return parsed.String(), nil
	case "blobs.dedupe_scope", "blobs.compression", "blobs.reclaim":
		normalized := strings.ToLower(value)
		for _, allowed := range enumValues[key] {
			if normalized == allowed {
				return normalized, nil
			}
		}
		return nil, fmt.Errorf("%s must be one of %s", key, strings.Join(enumValues[key], ", "))
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalizeDefaults() {
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = Duration(DefaultTokenTTL)
	}
	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Uploads.MultipartMaxMemory <= 0 {
		c.Uploads.MultipartMaxMemory = DefaultMultipartMaxMemory
	}
	c.Blobs.DedupeScope = strings.ToLower(strings.TrimSpace(c.Blobs.DedupeScope))
	if c.Blobs.DedupeScope == "" {
		c.Blobs.DedupeScope = DefaultDedupeScope
	}
	c.Blobs.Compression = strings.ToLower(strings.TrimSpace(c.Blobs.Compression))
	if c.Blobs.Compression == "" {
		c.Blobs.Compression = DefaultCompression
	}
	c.Blobs.Reclaim = strings.ToLower(strings.TrimSpace(c.Blobs.Reclaim))
	if c.Blobs.Reclaim == "" {
		c.Blobs.Reclaim = DefaultReclaim
	}
	if c.GC.BatchSize <= 0 {
		c.GC.BatchSize = DefaultGCBatchSize
	}
	if c.GC.TempGrace <= 0 {
		c.GC.TempGrace = Duration(DefaultGCTempGrace)
	}
	if c.GC.Interval < 0 {
		c.GC.Interval = 0
	}
}
