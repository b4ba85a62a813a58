package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration for the Welcome app
type Config struct {
	AppDataDir string // per-user data directory, never overridden by the config file
	ConfigFile string // file the config was loaded from, empty when defaults/env only
	LogLevel   string
	Mirrors    MirrorConfig
	Server     ServerConfig
}

// MirrorConfig configures the mirror-list updater
type MirrorConfig struct {
	Countries             []string
	DefaultHTTPS          bool
	DefaultHTTP           bool
	DefaultSort           string
	DefaultMaxMirrors     int
	DefaultTimeoutSeconds int
	SavePath              string
	Reflector             string
	Elevation             string
	StreamMode            string // "pipe" or "pty"
	LogClear              string // "on_finish" or "on_start"
	GracePeriod           time.Duration
}

// ServerConfig configures the HTTP bridge started by `welcome serve`
type ServerConfig struct {
	Listen string
}

const (
	appDataDirName   = "alg-welcome"
	configFileName   = "config.yaml"
	envConfigFile    = "ALG_WELCOME_CONFIG"
	envLogLevel      = "ALG_WELCOME_LOG_LEVEL"
	envCountries     = "ALG_WELCOME_COUNTRIES"
	envReflector     = "ALG_WELCOME_REFLECTOR"
	envElevation     = "ALG_WELCOME_ELEVATION"
	envSavePath      = "ALG_WELCOME_MIRRORLIST"
	envStreamMode    = "ALG_WELCOME_STREAM_MODE"
	envLogClear      = "ALG_WELCOME_LOG_CLEAR"
	envGracePeriod   = "ALG_WELCOME_GRACE_PERIOD"
	envListen        = "ALG_WELCOME_LISTEN"
	envMaxMirrors    = "ALG_WELCOME_MAX_MIRRORS"
	envTimeout       = "ALG_WELCOME_TIMEOUT"
	StreamModePipe   = "pipe"
	StreamModePTY    = "pty"
	LogClearOnFinish = "on_finish"
	LogClearOnStart  = "on_start"
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Mirrors: MirrorConfig{
			Countries:             DefaultCountries(),
			DefaultHTTPS:          true,
			DefaultHTTP:           false,
			DefaultSort:           "rate",
			DefaultMaxMirrors:     20,
			DefaultTimeoutSeconds: 20,
			SavePath:              "/etc/pacman.d/mirrorlist",
			Reflector:             "reflector",
			Elevation:             "pkexec",
			StreamMode:            StreamModePipe,
			LogClear:              LogClearOnFinish,
			GracePeriod:           10 * time.Second,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8089",
		},
	}
}

// appDataDir returns the platform-specific data path for the app.
func appDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDataDirName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDataDirName), nil
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, appDataDirName), nil
	}
}

// Load resolves configuration: built-in defaults, then the YAML config file
// (ALG_WELCOME_CONFIG or the user config dir), then ALG_WELCOME_* environment variables.
func Load() (*Config, error) {
	cfg := Default()

	dataDir, err := appDataDir()
	if err != nil {
		return nil, err
	}
	cfg.AppDataDir = dataDir

	path, explicit := configFilePath()
	if path != "" {
		fileCfg, err := loadFileConfig(path)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				fileCfg = nil
			} else {
				return nil, fmt.Errorf("failed to load config %s: %w", path, err)
			}
		}
		if fileCfg != nil {
			if err := fileCfg.applyTo(cfg); err != nil {
				return nil, fmt.Errorf("invalid config %s: %w", path, err)
			}
			cfg.ConfigFile = path
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the mirror pipeline depends on
func (c *Config) Validate() error {
	m := c.Mirrors
	if len(m.Countries) == 0 {
		return fmt.Errorf("mirrors.countries must not be empty")
	}
	for _, country := range m.Countries {
		if strings.TrimSpace(country) == "" || strings.ContainsAny(country, "\",'`$\\\n") {
			return fmt.Errorf("mirrors.countries: invalid country %q", country)
		}
	}
	if !m.DefaultHTTPS && !m.DefaultHTTP {
		return fmt.Errorf("mirrors: at least one default protocol must be enabled")
	}
	if m.DefaultMaxMirrors < 1 {
		return fmt.Errorf("mirrors.default_max_mirrors must be at least 1")
	}
	if m.DefaultTimeoutSeconds < 1 {
		return fmt.Errorf("mirrors.default_timeout_seconds must be at least 1")
	}
	switch m.DefaultSort {
	case "rate", "age", "country", "score", "delay":
	default:
		return fmt.Errorf("mirrors.default_sort: unknown sort key %q", m.DefaultSort)
	}
	switch m.StreamMode {
	case StreamModePipe, StreamModePTY:
	default:
		return fmt.Errorf("mirrors.stream_mode must be %q or %q", StreamModePipe, StreamModePTY)
	}
	switch m.LogClear {
	case LogClearOnFinish, LogClearOnStart:
	default:
		return fmt.Errorf("mirrors.log_clear must be %q or %q", LogClearOnFinish, LogClearOnStart)
	}
	if m.Reflector == "" || m.Elevation == "" || m.SavePath == "" {
		return fmt.Errorf("mirrors: reflector, elevation and save_path are required")
	}
	if m.GracePeriod <= 0 {
		return fmt.Errorf("mirrors.grace_period must be positive")
	}
	return nil
}

func configFilePath() (string, bool) {
	if v := strings.TrimSpace(os.Getenv(envConfigFile)); v != "" {
		return v, true
	}
	dir, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return "", false
	}
	return filepath.Join(dir, appDataDirName, configFileName), false
}

type fileConfig struct {
	Log struct {
		Level *string `yaml:"level"`
	} `yaml:"log"`
	Mirrors struct {
		Countries             []string `yaml:"countries"`
		DefaultProtocols      []string `yaml:"default_protocols"`
		DefaultSort           *string  `yaml:"default_sort"`
		DefaultMaxMirrors     *int     `yaml:"default_max_mirrors"`
		DefaultTimeoutSeconds *int     `yaml:"default_timeout_seconds"`
		SavePath              *string  `yaml:"save_path"`
		Reflector             *string  `yaml:"reflector"`
		Elevation             *string  `yaml:"elevation"`
		StreamMode            *string  `yaml:"stream_mode"`
		LogClear              *string  `yaml:"log_clear"`
		GracePeriod           *string  `yaml:"grace_period"`
	} `yaml:"mirrors"`
	Server struct {
		Listen *string `yaml:"listen"`
	} `yaml:"server"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (f *fileConfig) applyTo(cfg *Config) error {
	if f.Log.Level != nil {
		cfg.LogLevel = *f.Log.Level
	}

	m := &cfg.Mirrors
	if len(f.Mirrors.Countries) > 0 {
		m.Countries = append([]string(nil), f.Mirrors.Countries...)
	}
	if len(f.Mirrors.DefaultProtocols) > 0 {
		m.DefaultHTTPS, m.DefaultHTTP = false, false
		for _, p := range f.Mirrors.DefaultProtocols {
			switch strings.ToLower(strings.TrimSpace(p)) {
			case "https":
				m.DefaultHTTPS = true
			case "http":
				m.DefaultHTTP = true
			default:
				return fmt.Errorf("mirrors.default_protocols: unknown protocol %q", p)
			}
		}
	}
	if f.Mirrors.DefaultSort != nil {
		m.DefaultSort = strings.ToLower(*f.Mirrors.DefaultSort)
	}
	if f.Mirrors.DefaultMaxMirrors != nil {
		m.DefaultMaxMirrors = *f.Mirrors.DefaultMaxMirrors
	}
	if f.Mirrors.DefaultTimeoutSeconds != nil {
		m.DefaultTimeoutSeconds = *f.Mirrors.DefaultTimeoutSeconds
	}
	if f.Mirrors.SavePath != nil {
		m.SavePath = *f.Mirrors.SavePath
	}
	if f.Mirrors.Reflector != nil {
		m.Reflector = *f.Mirrors.Reflector
	}
	if f.Mirrors.Elevation != nil {
		m.Elevation = *f.Mirrors.Elevation
	}
	if f.Mirrors.StreamMode != nil {
		m.StreamMode = *f.Mirrors.StreamMode
	}
	if f.Mirrors.LogClear != nil {
		m.LogClear = *f.Mirrors.LogClear
	}
	if f.Mirrors.GracePeriod != nil {
		d, err := time.ParseDuration(*f.Mirrors.GracePeriod)
		if err != nil {
			return fmt.Errorf("mirrors.grace_period: %w", err)
		}
		m.GracePeriod = d
	}
	if f.Server.Listen != nil {
		cfg.Server.Listen = *f.Server.Listen
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupString(envLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupString(envCountries); ok {
		var countries []string
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				countries = append(countries, c)
			}
		}
		cfg.Mirrors.Countries = countries
	}
	if v, ok := lookupString(envReflector); ok {
		cfg.Mirrors.Reflector = v
	}
	if v, ok := lookupString(envElevation); ok {
		cfg.Mirrors.Elevation = v
	}
	if v, ok := lookupString(envSavePath); ok {
		cfg.Mirrors.SavePath = v
	}
	if v, ok := lookupString(envStreamMode); ok {
		cfg.Mirrors.StreamMode = v
	}
	if v, ok := lookupString(envLogClear); ok {
		cfg.Mirrors.LogClear = v
	}
	if v, ok := lookupString(envListen); ok {
		cfg.Server.Listen = v
	}
	if v, ok := lookupString(envGracePeriod); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envGracePeriod, err)
		}
		cfg.Mirrors.GracePeriod = d
	}
	if n, ok, err := lookupInt(envMaxMirrors); err != nil {
		return fmt.Errorf("invalid %s: %w", envMaxMirrors, err)
	} else if ok {
		cfg.Mirrors.DefaultMaxMirrors = n
	}
	if n, ok, err := lookupInt(envTimeout); err != nil {
		return fmt.Errorf("invalid %s: %w", envTimeout, err)
	} else if ok {
		cfg.Mirrors.DefaultTimeoutSeconds = n
	}
	return nil
}

func lookupString(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	}
	return "", false
}

func lookupInt(key string) (int, bool, error) {
	v, ok := lookupString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
