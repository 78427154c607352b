// Package snapshot manages the btrfs subvolumes kept on the backup drive:
// dated read-only snapshots of each host's rsync tree, and snapshots pushed
// by hosts with "btrfs send".
//
// Layout below the mount point:
//
//	<host>/                       rsync target of the host
//	<host>/home                   its home subvolume
//	<host>/<subvolume>/<name>     snapshots received from the host
//	snapshots/<host>/root/<date>  read-only snapshots of <host>
//	snapshots/<host>/home/<date>  read-only snapshots of <host>/home
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gartnera/restricted-backup/internal/sysexec"
)

// DateLayout names the daily snapshots; it sorts chronologically.
const DateLayout = "2006-01-02"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ErrExists is returned by Create when today's snapshot was already taken.
var ErrExists = errors.New("A snapshot already exists for today")

// ValidName reports whether name is safe to use as a single path component.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Manager runs btrfs against the mounted backup drive.
type Manager struct {
	MountPoint string
	Keep       int
	Runner     sysexec.Runner
	Mounted    func() bool
	Now        func() time.Time
	Stdin      io.Reader
	Stdout     io.Writer
}

func (m *Manager) check(host string, action string) error {
	if !ValidName(host) {
		return fmt.Errorf("invalid host name %q", host)
	}
	if m.Mounted != nil && !m.Mounted() {
		return fmt.Errorf("Unable to %s, backup drive is not mounted", action)
	}
	return nil
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Create takes today's read-only snapshots of the host's root and home
// subvolumes. It returns ErrExists if today's root snapshot is present.
func (m *Manager) Create(ctx context.Context, host string) error {
	if err := m.check(host, "create snapshots"); err != nil {
		return err
	}
	date := m.now().Format(DateLayout)
	base := filepath.Join(m.MountPoint, "snapshots", host)
	if _, err := os.Stat(filepath.Join(base, "root", date)); err == nil {
		return ErrExists
	}

	pairs := [][2]string{
		{filepath.Join(m.MountPoint, host), filepath.Join(base, "root", date)},
		{filepath.Join(m.MountPoint, host, "home"), filepath.Join(base, "home", date)},
	}
	var failed bool
	for _, p := range pairs {
		err := m.Runner.Run(ctx, sysexec.Command{
			Name: "btrfs",
			Args: []string{"subvolume", "snapshot", "-r", p[0], p[1]},
		})
		if err != nil {
			slog.Warn("snapshot failed", "source", p[0], "error", err)
			failed = true
		}
	}
	if failed {
		return errors.New("Unable to create snapshots")
	}
	return nil
}

// Prune deletes the oldest dated snapshots of host beyond Keep.
func (m *Manager) Prune(ctx context.Context, host string) error {
	if err := m.check(host, "create snapshots"); err != nil {
		return err
	}
	base := filepath.Join(m.MountPoint, "snapshots", host)
	for _, sub := range []string{"root", "home"} {
		if err := m.pruneDir(ctx, filepath.Join(base, sub)); err != nil {
			return err
		}
	}
	return nil
}

// Parent returns the newest snapshot received for the host's root
// subvolume, the parent for the next incremental send.
func (m *Manager) Parent(host string) (string, error) {
	if err := m.check(host, "get parent"); err != nil {
		return "", err
	}
	names, err := listNames(filepath.Join(m.MountPoint, host, "root"))
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no snapshots found for %s", host)
	}
	return names[len(names)-1], nil
}

// Receive stores a "btrfs send" stream, read from Stdin, below the host's
// subvolume directory.
func (m *Manager) Receive(ctx context.Context, host, subvolume string) error {
	if err := m.check(host, "receive snapshot"); err != nil {
		return err
	}
	if !ValidName(subvolume) {
		return fmt.Errorf("invalid subvolume name %q", subvolume)
	}
	return m.Runner.Run(ctx, sysexec.Command{
		Name:   "btrfs",
		Args:   []string{"receive", filepath.Join(m.MountPoint, host, subvolume)},
		Stdin:  m.Stdin,
		Stdout: m.Stdout,
	})
}

// PruneReceived deletes the oldest received snapshots beyond Keep in every
// subvolume directory of host.
func (m *Manager) PruneReceived(ctx context.Context, host string) error {
	if err := m.check(host, "receive snapshot"); err != nil {
		return err
	}
	dir := filepath.Join(m.MountPoint, host)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := m.pruneDir(ctx, filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) pruneDir(ctx context.Context, dir string) error {
	if m.Keep <= 0 {
		return nil
	}
	names, err := listNames(dir)
	if err != nil {
		return err
	}
	if len(names) <= m.Keep {
		return nil
	}
	for _, name := range names[:len(names)-m.Keep] {
		path := filepath.Join(dir, name)
		slog.Info("deleting old snapshot", "path", path)
		err := m.Runner.Run(ctx, sysexec.Command{
			Name: "btrfs",
			Args: []string{"subvolume", "delete", path},
		})
		if err != nil {
			return fmt.Errorf("deleting %s: %w", path, err)
		}
	}
	return nil
}

// listNames returns the entries of dir sorted by name.
func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}
