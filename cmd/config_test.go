package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gartnera/restricted-backup/config"
)

func TestEffectiveConfig(t *testing.T) {
	cfg, err := effectiveConfig(&config.Config{MountPoint: "/srv/backup", LockDir: "/run/locks"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	if err := writeConfig(&buf, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"rsync_path: /usr/bin/rsync\n",
		"mount_point: /srv/backup\n",
		"keep_snapshots: 21\n",
		"lock_dir: /run/locks\n",
		"require_mount: true\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestWriteConfig_OmitsUnset(t *testing.T) {
	var buf bytes.Buffer
	if err := writeConfig(&buf, &config.Config{Device: "/dev/sdb"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "device: /dev/sdb\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestSetOSSandbox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	orig := configFile
	configFile = path
	t.Cleanup(func() { configFile = orig })

	var out bytes.Buffer
	configOSSandboxDisableCmd.SetOut(&out)
	if err := setOSSandbox(configOSSandboxDisableCmd, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "OS sandbox disabled\n" {
		t.Fatalf("unexpected output %q", out.String())
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OSSandbox == nil || cfg.OSSandboxEnabled() {
		t.Fatalf("expected os_sandbox: false to be saved, got %+v", cfg)
	}
}

func TestConfigDefaultPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv(config.PathEnv, path)
	orig := configFile
	configFile = ""
	t.Cleanup(func() { configFile = orig })

	var out bytes.Buffer
	configOSSandboxEnableCmd.SetOut(&out)
	if err := setOSSandbox(configOSSandboxEnableCmd, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.OSSandboxEnabled() {
		t.Fatalf("expected os_sandbox enabled in %s, got %+v", path, cfg)
	}
}
