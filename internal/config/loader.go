package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
)

// EnvConfigPath names the variable that overrides the config file location.
const EnvConfigPath = "CRMHUB_CONFIG_PATH"

// Loader handles configuration loading and hot-reloading
type Loader struct {
	path     string
	envFiles []string
	logger   *logging.Logger

	mu       sync.RWMutex
	config   *Config
	onChange func(*Config)

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopChan chan struct{}
	debounce time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvFiles loads the given dotenv files before ${VAR} expansion.
// Missing files are ignored and variables already set in the process win.
func WithEnvFiles(files ...string) LoaderOption {
	return func(l *Loader) {
		l.envFiles = files
	}
}

// WithLoaderLogger sets the logger used for reload diagnostics.
func WithLoaderLogger(logger *logging.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a new configuration loader
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{
		path:     path,
		logger:   logging.NewNop(),
		stopChan: make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the config file location.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the configuration from the file
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrConfigNotFound{Path: l.path}
		}
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}

	config, err := Parse(substituteEnvVars(content))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = config
	l.mu.Unlock()

	return config, nil
}

func (l *Loader) loadEnvFiles() error {
	for _, f := range l.envFiles {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return &errors.ErrFileRead{Path: f, Err: err}
		}
	}
	return nil
}

// Reload forces a reload of the configuration and notifies the change callback.
func (l *Loader) Reload() (*Config, error) {
	config, err := l.Load()
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	onChange := l.onChange
	l.mu.RUnlock()

	if onChange != nil {
		onChange(config)
	}

	return config, nil
}

// Get returns the current configuration
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// SetOnChange sets a callback to be called when configuration changes
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// StartWatcher watches the config directory and reloads on writes to the file.
// Editors that replace the file via rename are handled because the directory is watched.
func (l *Loader) StartWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}
	l.watcher = w

	go l.watch(w)
	return nil
}

func (l *Loader) watch(w *fsnotify.Watcher) {
	target := filepath.Clean(l.path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-l.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if _, err := l.Reload(); err != nil {
				l.logger.Error("config reload failed", "path", l.path, "error", err)
				continue
			}
			l.logger.Info("config reloaded", "path", l.path)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config watcher error", "error", err)
		}
	}
}

// StopWatcher stops the file watcher
func (l *Loader) StopWatcher() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		if l.watcher != nil {
			l.watcher.Close()
		}
	})
}

// PathFromEnv returns the config path from CRMHUB_CONFIG_PATH or the default.
func PathFromEnv() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return "config.yaml"
}

// Parse parses configuration from byte slice
func Parse(data []byte) (*Config, error) {
	var config Config

	// Apply defaults before parsing
	config.Server.HTTPPort = 8080
	config.Server.ShutdownTimeout = 30 * time.Second
	config.Server.LogLevel = "info"
	config.Server.LogFormat = "json"
	config.Database.Driver = "sqlite"

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return &config, nil
}

func substituteEnvVars(content []byte) []byte {
	return []byte(os.ExpandEnv(string(content)))
}
