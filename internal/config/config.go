package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sentryd/internal/child"
	"github.com/loykin/sentryd/internal/engine"
	"github.com/loykin/sentryd/internal/logger"
	"github.com/loykin/sentryd/internal/store"
	"github.com/loykin/sentryd/internal/watcher"
)

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	App      AppConfig      `toml:"app" mapstructure:"app"`
	Watch    WatchConfig    `toml:"watch" mapstructure:"watch"`
	Commands CommandsConfig `toml:"commands" mapstructure:"commands"`
	Health   HealthConfig   `toml:"health" mapstructure:"health"`
	Log      logger.Config  `toml:"log" mapstructure:"log"`
	Store    store.Config   `toml:"store" mapstructure:"store"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
}

type AppConfig struct {
	Name    string `toml:"name" mapstructure:"name"`
	PIDFile string `toml:"pid_file" mapstructure:"pid_file"`
}

type WatchConfig struct {
	Path          string   `toml:"path" mapstructure:"path"`
	Ignore        []string `toml:"ignore" mapstructure:"ignore"`
	ChangesNeeded int      `toml:"changes_needed" mapstructure:"changes_needed"`
}

type CommandsConfig struct {
	Install string   `toml:"install" mapstructure:"install"`
	Build   string   `toml:"build" mapstructure:"build"`
	Run     string   `toml:"run" mapstructure:"run"`
	WorkDir string   `toml:"workdir" mapstructure:"workdir"`
	Env     []string `toml:"env" mapstructure:"env"`
}

type HealthConfig struct {
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	StopTimeout time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	MaxRAMMB    float64       `toml:"max_ram_mb" mapstructure:"max_ram_mb"`
	ErrorLogCap int           `toml:"error_log_cap" mapstructure:"error_log_cap"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Load reads and validates the TOML config at path.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.App.Name == "" {
		fc.App.Name = "sentryd"
	}
	if fc.App.PIDFile == "" {
		fc.App.PIDFile = filepath.Join(os.TempDir(), fmt.Sprintf(".%s.pid", fc.App.Name))
	}
	if fc.Watch.ChangesNeeded <= 0 {
		fc.Watch.ChangesNeeded = engine.DefaultChangesNeeded
	}
	if fc.Health.Interval <= 0 {
		fc.Health.Interval = engine.DefaultInterval
	}
	if fc.Health.StopTimeout <= 0 {
		fc.Health.StopTimeout = engine.DefaultStopTimeout
	}
	if fc.Commands.WorkDir == "" {
		fc.Commands.WorkDir = fc.Watch.Path
	}
	if fc.Server.Listen == "" {
		fc.Server.Listen = "127.0.0.1:8643"
	}
}

func (fc *FileConfig) validate() error {
	if fc.Commands.Run == "" {
		return fmt.Errorf("config: commands.run is required")
	}
	if fc.Watch.Path == "" {
		return fmt.Errorf("config: watch.path is required")
	}
	fi, err := os.Stat(fc.Watch.Path)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("config: watch.path %s is not a directory", fc.Watch.Path)
	}
	return nil
}

// WatchRoot returns the canonical absolute watch path.
func (fc *FileConfig) WatchRoot() (string, error) {
	abs, err := filepath.Abs(fc.Watch.Path)
	if err != nil {
		return "", fmt.Errorf("config: resolve watch.path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// Engine resolves the file config into the engine's runtime config.
func (fc *FileConfig) Engine() (engine.Config, error) {
	root, err := fc.WatchRoot()
	if err != nil {
		return engine.Config{}, err
	}
	workdir, err := filepath.Abs(fc.Commands.WorkDir)
	if err != nil {
		return engine.Config{}, fmt.Errorf("config: resolve commands.workdir: %w", err)
	}
	return engine.Config{
		Name:           fc.App.Name,
		WatchPath:      root,
		IgnorePaths:    watcher.ResolveIgnores(root, fc.Watch.Ignore),
		ChangesNeeded:  fc.Watch.ChangesNeeded,
		Interval:       fc.Health.Interval,
		StopTimeout:    fc.Health.StopTimeout,
		MaxRAMMB:       fc.Health.MaxRAMMB,
		ErrorLogCap:    fc.Health.ErrorLogCap,
		InstallCommand: fc.Commands.Install,
		BuildCommand:   fc.Commands.Build,
		Child: child.Spec{
			Name:    fc.App.Name,
			Command: fc.Commands.Run,
			WorkDir: workdir,
			Env:     fc.Commands.Env,
			PIDFile: fc.App.PIDFile,
			Log:     fc.Log.File,
		},
	}, nil
}
