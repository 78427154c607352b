package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const appName = "restricted-backup"

// PathEnv overrides the config file location.
const PathEnv = "RESTRICTED_BACKUP_CONFIG"

const (
	DefaultRsyncPath     = "/usr/bin/rsync"
	DefaultLogFile       = "rrsync.log"
	DefaultDevice        = "/dev/sda"
	DefaultMappedName    = "cryptbackup"
	DefaultMountPoint    = "/mnt/backup"
	DefaultKeepSnapshots = 21
	DefaultUpdateDir     = "./restricted-backup"
)

// Config holds the gateway configuration. Zero values mean "use the
// default"; read them through the accessor methods. Unknown YAML fields are
// silently ignored for forward compatibility.
type Config struct {
	RsyncPath     string `yaml:"rsync_path,omitempty"`
	LogFile       string `yaml:"log_file,omitempty"`
	Device        string `yaml:"device,omitempty"`
	MappedName    string `yaml:"mapped_name,omitempty"`
	MountPoint    string `yaml:"mount_point,omitempty"`
	KeepSnapshots int    `yaml:"keep_snapshots,omitempty"`
	LockDir       string `yaml:"lock_dir,omitempty"`
	UpdateDir     string `yaml:"update_dir,omitempty"`

	// RequireMount makes rsync commands fail unless the backup drive is
	// mounted. Defaults to true.
	RequireMount *bool `yaml:"require_mount,omitempty"`

	// OSSandbox runs rsync inside bubblewrap. Defaults to false.
	OSSandbox *bool `yaml:"os_sandbox,omitempty"`
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Rsync returns the rsync binary to run.
func (c *Config) Rsync() string { return orDefault(c.RsyncPath, DefaultRsyncPath) }

// AuditLog returns the audit log path. A relative path is relative to the
// working directory of the gateway, the user's home under sshd.
func (c *Config) AuditLog() string { return orDefault(c.LogFile, DefaultLogFile) }

// BlockDevice returns the encrypted backup device.
func (c *Config) BlockDevice() string { return orDefault(c.Device, DefaultDevice) }

// Mapped returns the device-mapper name of the opened device.
func (c *Config) Mapped() string { return orDefault(c.MappedName, DefaultMappedName) }

// Mount returns the mount point of the backup filesystem.
func (c *Config) Mount() string { return orDefault(c.MountPoint, DefaultMountPoint) }

// Update returns the checkout updated by the "update" command.
func (c *Config) Update() string { return orDefault(c.UpdateDir, DefaultUpdateDir) }

// Keep returns how many snapshots to keep per subvolume.
func (c *Config) Keep() int {
	if c.KeepSnapshots <= 0 {
		return DefaultKeepSnapshots
	}
	return c.KeepSnapshots
}

// MountRequired reports whether rsync needs the backup drive mounted.
func (c *Config) MountRequired() bool {
	if c.RequireMount == nil {
		return true
	}
	return *c.RequireMount
}

// OSSandboxEnabled reports whether rsync runs inside bubblewrap.
func (c *Config) OSSandboxEnabled() bool {
	return c.OSSandbox != nil && *c.OSSandbox
}

// Locks returns the directory holding the per-host lock files, by default
// the directory of the running executable.
func (c *Config) Locks() (string, error) {
	if c.LockDir != "" {
		return c.LockDir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

// Path returns the platform-appropriate config file path, or the value of
// RESTRICTED_BACKUP_CONFIG when set.
func Path() (string, error) {
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine config directory: %w", err)
	}
	return filepath.Join(dir, appName, "config.yaml"), nil
}

// Load reads the config file at Path.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(p)
}

// LoadFile reads and parses the config file at p. If the file does not
// exist, a zero-value Config is returned with no error.
func LoadFile(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to Path.
func Save(cfg *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(p, cfg)
}

// SaveFile writes the config to p, creating the directory if needed.
func SaveFile(p string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Watch monitors the file at Path; see WatchFile.
func Watch(ctx context.Context, onChange func(*Config)) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return WatchFile(ctx, p, onChange)
}

// WatchFile monitors the config file at p and calls onChange with the newly
// loaded Config. It blocks until ctx is cancelled. If the config directory
// does not exist yet, WatchFile creates it so fsnotify can watch it.
func WatchFile(ctx context.Context, p string, onChange func(*Config)) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(p) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cfg, err := LoadFile(p)
				if err != nil {
					slog.Error("failed to reload config", "error", err)
					continue
				}
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}
