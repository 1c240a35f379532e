package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// DomainConfig is the per-domain identity a user holds with a portal:
// which portal address to dial, the device id that portal assigned this
// endpoint, the device fingerprint portal uses to route visit requests,
// and the local device password used in key agreement.
type DomainConfig struct {
	URI         string `mapstructure:"uri" yaml:"uri"`
	DeviceID    string `mapstructure:"device_id" yaml:"device_id"`
	FingerPrint string `mapstructure:"finger_print" yaml:"finger_print"`
	Password    string `mapstructure:"password" yaml:"password"`
}

// fileConfig is the on-disk shape of mirrorx.yaml.
type fileConfig struct {
	PrimaryDomain string                  `mapstructure:"primary_domain"`
	Domains       map[string]DomainConfig `mapstructure:"domains"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	MaxConcurrentSessions int `mapstructure:"max_concurrent_sessions"`
	WorkerPoolSize        int `mapstructure:"worker_pool_size"`
	WorkerQueueSize       int `mapstructure:"worker_queue_size"`
}

func defaultFileConfig() *fileConfig {
	return &fileConfig{
		Domains:               map[string]DomainConfig{},
		LogLevel:              "info",
		LogFormat:             "text",
		LogMaxSizeMB:          50,
		LogMaxBackups:         3,
		MaxConcurrentSessions: 8,
		WorkerPoolSize:        4,
		WorkerQueueSize:       64,
	}
}

// Store is the ConfigStore the endpoint core consumes: it knows
// nothing about transport or crypto, only about which domains this
// installation is registered with and what identity it holds at each.
type Store interface {
	ReadPrimaryDomain() (string, error)
	ReadDomain(name string) (DomainConfig, error)
	WriteDomain(name string, cfg DomainConfig) error
	ListDomains() ([]string, error)
	RandomPassword() string
	RandomFingerPrint() string
}

// FileStore is a viper-backed Store, the same on-disk/env-merge idiom an
// agent config typically uses, reshaped around domains instead of a single
// server registration.
type FileStore struct {
	v        *viper.Viper
	path     string
	cfg      *fileConfig
}

// Load reads mirrorx.yaml (or cfgFile if non-empty), merging MIRRORX_-
// prefixed environment variables over it, and returns a FileStore ready
// for use. A missing config file is not an error: a fresh default config
// is used and the first WriteDomain call creates the file.
func Load(cfgFile string) (*FileStore, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("mirrorx")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MIRRORX")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := defaultFileConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Domains == nil {
		cfg.Domains = map[string]DomainConfig{}
	}

	for _, err := range Validate(cfg) {
		log.Warn("config validation", "error", err)
	}

	path := cfgFile
	if path == "" {
		path = filepath.Join(configDir(), "mirrorx.yaml")
	}

	return &FileStore{v: v, path: path, cfg: cfg}, nil
}

func (s *FileStore) ReadPrimaryDomain() (string, error) {
	if s.cfg.PrimaryDomain == "" {
		return "", fmt.Errorf("no primary domain configured")
	}
	return s.cfg.PrimaryDomain, nil
}

func (s *FileStore) ReadDomain(name string) (DomainConfig, error) {
	cfg, ok := s.cfg.Domains[name]
	if !ok {
		return DomainConfig{}, fmt.Errorf("domain %q not registered", name)
	}
	return cfg, nil
}

func (s *FileStore) WriteDomain(name string, cfg DomainConfig) error {
	if s.cfg.Domains == nil {
		s.cfg.Domains = map[string]DomainConfig{}
	}
	s.cfg.Domains[name] = cfg
	if s.cfg.PrimaryDomain == "" {
		s.cfg.PrimaryDomain = name
	}
	return s.save()
}

func (s *FileStore) ListDomains() ([]string, error) {
	names := make([]string, 0, len(s.cfg.Domains))
	for name := range s.cfg.Domains {
		names = append(names, name)
	}
	return names, nil
}

// RandomPassword generates the local device password offered during key
// agreement: an 8-character digit string, matching the
// short numeric password the original UI presents for a human to read over
// a call.
func (s *FileStore) RandomPassword() string {
	return randomDigits(8)
}

// RandomFingerPrint generates a new device fingerprint: a 12-digit string
// in the same alphabet as the password, used by portal to address visit
// requests at a specific device without exposing its real device id.
func (s *FileStore) RandomFingerPrint() string {
	return randomDigits(12)
}

func randomDigits(n int) string {
	const digits = "0123456789"
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			// crypto/rand failing means the system RNG is broken; there is
			// no sane fallback for key-agreement material.
			panic(fmt.Sprintf("config: crypto/rand unavailable: %v", err))
		}
		out[i] = digits[idx.Int64()]
	}
	return string(out)
}

func (s *FileStore) save() error {
	s.v.Set("primary_domain", s.cfg.PrimaryDomain)
	s.v.Set("domains", s.cfg.Domains)
	s.v.Set("log_level", s.cfg.LogLevel)
	s.v.Set("log_format", s.cfg.LogFormat)
	s.v.Set("log_file", s.cfg.LogFile)
	s.v.Set("log_max_size_mb", s.cfg.LogMaxSizeMB)
	s.v.Set("log_max_backups", s.cfg.LogMaxBackups)
	s.v.Set("max_concurrent_sessions", s.cfg.MaxConcurrentSessions)
	s.v.Set("worker_pool_size", s.cfg.WorkerPoolSize)
	s.v.Set("worker_queue_size", s.cfg.WorkerQueueSize)

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// Domain passwords live in this file; restrict it to owner-only access.
	return os.Chmod(s.path, 0600)
}

// LogLevel, LogFormat, LogFile, WorkerPoolSize and WorkerQueueSize expose
// the ambient settings FileStore loaded alongside domains, for callers
// (cmd/mirrorx-endpoint) that wire logging.Init and workerpool.New.
func (s *FileStore) LogLevel() string       { return s.cfg.LogLevel }
func (s *FileStore) LogFormat() string      { return s.cfg.LogFormat }
func (s *FileStore) LogFile() string        { return s.cfg.LogFile }
func (s *FileStore) LogMaxSizeMB() int      { return s.cfg.LogMaxSizeMB }
func (s *FileStore) LogMaxBackups() int     { return s.cfg.LogMaxBackups }
func (s *FileStore) WorkerPoolSize() int    { return s.cfg.WorkerPoolSize }
func (s *FileStore) WorkerQueueSize() int   { return s.cfg.WorkerQueueSize }

// GetDataDir returns the platform-specific data directory for endpoint
// state (received-file downloads, thumbnail cache).
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "MirrorX", "data")
	case "darwin":
		return "/Library/Application Support/MirrorX/data"
	default:
		return "/var/lib/mirrorx"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "MirrorX")
	case "darwin":
		return "/Library/Application Support/MirrorX"
	default:
		return "/etc/mirrorx"
	}
}
