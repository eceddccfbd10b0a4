// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/puppypeer/puppyagent/lib/cron"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "PUPPYAGENT_CONFIG"

// Restart strategies for update.restart.
const (
	RestartExec      = "exec"
	RestartCommand   = "command"
	RestartSelfCheck = "selfcheck"
)

// Config is the agent configuration.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Control ControlConfig `yaml:"control"`
	Update  UpdateConfig  `yaml:"update"`
	Upload  UploadConfig  `yaml:"upload"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State holds the identity database, upload staging, the
	// activation journal, and the instance lock.
	State string `yaml:"state"`

	// InstallRoot holds versions/ and the current/previous links.
	InstallRoot string `yaml:"install_root"`
}

// ControlConfig configures the control-plane socket.
type ControlConfig struct {
	SocketPath           string        `yaml:"socket_path"`
	CredentialSessionTTL time.Duration `yaml:"credential_session_ttl"`
}

// UpdateConfig configures release discovery and activation.
type UpdateConfig struct {
	// Repository is "owner/name" on GitHub.
	Repository string `yaml:"repository"`
	APIURL     string `yaml:"api_url"`

	// Target is "<os>-<arch>". Empty means the build platform.
	Target string `yaml:"target"`

	// PublicKey is the base64 Ed25519 release key. Empty means the
	// key built into the binary.
	PublicKey string `yaml:"public_key"`

	HealthTimeout   time.Duration `yaml:"health_timeout"`
	Restart         string        `yaml:"restart"`
	RestartCommand  []string      `yaml:"restart_command"`
	MaxArtifactSize int64         `yaml:"max_artifact_size"`
}

// UploadConfig configures the upload staging store.
type UploadConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxSize     int64         `yaml:"max_size"`
	MaxChunk    int           `yaml:"max_chunk"`

	// SweepSchedule is a cron spec; empty disables the periodic sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a TCP address. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or text. Empty picks text on a terminal and
	// json otherwise.
	Format string `yaml:"format"`
}

// Default returns the configuration used for any key the file leaves
// unset.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			State:       "/var/lib/puppyagent",
			InstallRoot: "/opt/puppyagent",
		},
		Control: ControlConfig{
			SocketPath:           "/run/puppyagent/control.sock",
			CredentialSessionTTL: time.Hour,
		},
		Update: UpdateConfig{
			Repository:      "puppypeer/puppyagent",
			APIURL:          "https://api.github.com",
			Target:          runtime.GOOS + "-" + runtime.GOARCH,
			HealthTimeout:   2 * time.Minute,
			Restart:         RestartExec,
			MaxArtifactSize: 512 << 20,
		},
		Upload: UploadConfig{
			IdleTimeout:   15 * time.Minute,
			MaxSize:       512 << 20,
			MaxChunk:      4 << 20,
			SweepSchedule: "@every 1m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Resolve loads the file at path, or the file named by PUPPYAGENT_CONFIG
// when path is empty. With neither set, the defaults are used as they
// are.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path over the
// defaults. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// An empty file decodes as io.EOF and leaves the defaults.
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"PUPPYAGENT_STATE": c.Paths.State,
		"HOME":             os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["PUPPYAGENT_STATE"] = c.Paths.State // Update for dependent paths.

	c.Paths.InstallRoot = expandVars(c.Paths.InstallRoot, vars)
	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.State == "" {
		errs = append(errs, errors.New("paths.state is required"))
	} else if !filepath.IsAbs(c.Paths.State) {
		errs = append(errs, fmt.Errorf("paths.state must be absolute, got %q", c.Paths.State))
	}
	if c.Paths.InstallRoot == "" {
		errs = append(errs, errors.New("paths.install_root is required"))
	} else if !filepath.IsAbs(c.Paths.InstallRoot) {
		errs = append(errs, fmt.Errorf("paths.install_root must be absolute, got %q", c.Paths.InstallRoot))
	}

	if c.Control.SocketPath == "" {
		errs = append(errs, errors.New("control.socket_path is required"))
	}
	if c.Control.CredentialSessionTTL <= 0 {
		errs = append(errs, errors.New("control.credential_session_ttl must be positive"))
	}

	if owner, name, ok := strings.Cut(c.Update.Repository, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		errs = append(errs, fmt.Errorf("update.repository must be owner/name, got %q", c.Update.Repository))
	}
	if c.Update.Target == "" || !strings.Contains(c.Update.Target, "-") {
		errs = append(errs, fmt.Errorf("update.target must be <os>-<arch>, got %q", c.Update.Target))
	}
	if c.Update.PublicKey != "" {
		if key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Update.PublicKey)); err != nil || len(key) != 32 {
			errs = append(errs, errors.New("update.public_key must be a base64 Ed25519 public key"))
		}
	}
	if c.Update.HealthTimeout <= 0 {
		errs = append(errs, errors.New("update.health_timeout must be positive"))
	}
	switch c.Update.Restart {
	case RestartExec, RestartSelfCheck:
	case RestartCommand:
		if len(c.Update.RestartCommand) == 0 {
			errs = append(errs, errors.New("update.restart_command is required when update.restart is command"))
		}
	default:
		errs = append(errs, fmt.Errorf("update.restart must be one of: %s, %s, %s", RestartExec, RestartCommand, RestartSelfCheck))
	}
	if c.Update.MaxArtifactSize <= 0 {
		errs = append(errs, errors.New("update.max_artifact_size must be positive"))
	}

	if c.Upload.IdleTimeout <= 0 {
		errs = append(errs, errors.New("upload.idle_timeout must be positive"))
	}
	if c.Upload.MaxSize <= 0 {
		errs = append(errs, errors.New("upload.max_size must be positive"))
	}
	if c.Upload.MaxChunk <= 0 {
		errs = append(errs, errors.New("upload.max_chunk must be positive"))
	}
	if c.Upload.SweepSchedule != "" {
		if err := cron.Validate(c.Upload.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("upload.sweep_schedule: %w", err))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text"))
	}

	return errors.Join(errs...)
}

// IdentityDB is the SQLite identity store path.
func (c *Config) IdentityDB() string { return filepath.Join(c.Paths.State, "identity.db") }

// StagingDir holds in-progress uploads.
func (c *Config) StagingDir() string { return filepath.Join(c.Paths.State, "uploads") }

// DownloadDir holds release downloads while they are verified.
func (c *Config) DownloadDir() string { return filepath.Join(c.Paths.State, "downloads") }

// JournalPath is the activation journal.
func (c *Config) JournalPath() string { return filepath.Join(c.Paths.State, "activation.journal") }

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.State, "puppyagent.lock") }

// EnsurePaths creates the state directory, the socket's directory, and
// the install root.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{
		c.Paths.State,
		c.StagingDir(),
		c.DownloadDir(),
		c.Paths.InstallRoot,
		filepath.Dir(c.Control.SocketPath),
	} {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
