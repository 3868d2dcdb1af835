// Package config handles YAML configuration parsing and hot-reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
	"gopkg.in/yaml.v3"
)

// DebugEnv switches intervals from minutes to seconds when set.
const DebugEnv = "FETCH_GITHUB_HOST_DEBUG"

// IsDebug reports whether debug mode is enabled.
func IsDebug() bool {
	return os.Getenv(DebugEnv) != ""
}

// DefaultConfigDir returns the per-user data directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fetch-github-hosts")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yml")
}

// TemplateExportPath is where `template export` writes the built-in page.
func TemplateExportPath() string {
	return filepath.Join(DefaultConfigDir(), "server_template.html")
}

// Client source selection methods.
const (
	MethodOfficial = "official"
	MethodCustom   = "custom"
)

// Client configures the client role.
type Client struct {
	Interval     int    `yaml:"interval"`
	Method       string `yaml:"method"`
	SelectOrigin string `yaml:"select_origin"`
	CustomURL    string `yaml:"custom_url"`
	AutoFetch    bool   `yaml:"auto_fetch"`
}

// Server configures the server role.
type Server struct {
	Interval     int    `yaml:"interval"`
	Port         int    `yaml:"port"`
	TemplatePath string `yaml:"template_path"`
	Nameserver   string `yaml:"nameserver"`
	ArtifactDir  string `yaml:"artifact_dir"`
}

// Metrics configures the admin listener.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Hosts configures hosts file handling.
type Hosts struct {
	BackupDir  string `yaml:"backup_dir"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config represents the complete configuration.
type Config struct {
	Lang    string  `yaml:"lang"`
	Client  Client  `yaml:"client"`
	Server  Server  `yaml:"server"`
	Metrics Metrics `yaml:"metrics"`
	Hosts   Hosts   `yaml:"hosts"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	backupDir := ""
	if dir := DefaultConfigDir(); dir != "" {
		backupDir = filepath.Join(dir, "backups")
	}
	return &Config{
		Lang: "zh-CN",
		Client: Client{
			Interval:     60,
			Method:       MethodOfficial,
			SelectOrigin: "FetchGithubHosts",
		},
		Server: Server{
			Interval: 60,
			Port:     9898,
		},
		Hosts: Hosts{
			BackupDir:  backupDir,
			MaxBackups: 10,
		},
	}
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Manager handles configuration loading and watching.
type Manager struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a new config manager.
func NewManager(path string) *Manager {
	return &Manager{
		path:   path,
		stopCh: make(chan struct{}),
	}
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads and parses the configuration file.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	return nil
}

// LoadOrCreate loads the config file, writing the defaults first if it
// does not exist yet.
func (m *Manager) LoadOrCreate() error {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		if err := CreateDefault(m.path); err != nil {
			return err
		}
	}
	return m.Load()
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Set replaces the in-memory configuration after validating it.
func (m *Manager) Set(cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Watch starts watching the config file for changes. The directory is
// watched so that editors replacing the file are noticed too.
func (m *Manager) Watch(onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	m.watcher = watcher
	m.onChange = onChange

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go m.watchLoop()

	return nil
}

func (m *Manager) watchLoop() {
	target := filepath.Clean(m.path)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := m.Load(); err != nil {
					zlog.Warn("Ignoring invalid config change", "path", m.path, "error", err.Error())
					continue
				}
				if m.onChange != nil {
					m.onChange(m.Get())
				}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			zlog.Debug("Config watcher error", "error", err.Error())
		case <-m.stopCh:
			return
		}
	}
}

// Stop stops watching the config file.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.watcher != nil {
			m.watcher.Close()
		}
	})
}

// Save writes the configuration to the file.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}

	return write(m.path, cfg)
}

// CreateDefault creates a default configuration file.
func CreateDefault(path string) error {
	return write(path, Default())
}

func write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
