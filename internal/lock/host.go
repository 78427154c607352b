package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ErrNoLock is returned by Release when the host had no lock file.
var ErrNoLock = errors.New("Lock file not found, something went wrong.")

// HostLocks manages "<host>-<device>.lock" files in Dir, one per host that
// has the backup device open.
type HostLocks struct {
	Dir    string
	Device string
}

func (h HostLocks) suffix() string {
	return "-" + h.Device + ".lock"
}

func (h HostLocks) path(host string) string {
	return filepath.Join(h.Dir, host+h.suffix())
}

// Acquire creates the lock file for host. Acquiring twice is harmless.
func (h HostLocks) Acquire(host string) error {
	f, err := os.OpenFile(h.path(host), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating lock for %s: %w", host, err)
	}
	return f.Close()
}

// Release removes the lock file for host.
func (h HostLocks) Release(host string) error {
	err := os.Remove(h.path(host))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoLock
	}
	if err != nil {
		return fmt.Errorf("removing lock for %s: %w", host, err)
	}
	return nil
}

// Holders lists the hosts that currently hold a lock, in directory order.
func (h HostLocks) Holders() ([]string, error) {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}
	var hosts []string
	for _, e := range entries {
		if host, ok := h.hostOf(e.Name()); ok {
			hosts = append(hosts, host)
		}
	}
	return hosts, nil
}

func (h HostLocks) hostOf(name string) (string, bool) {
	host, ok := strings.CutSuffix(name, h.suffix())
	if !ok || host == "" {
		return "", false
	}
	return host, true
}

// HeldByOthers reports whether any host other than host holds a lock.
func (h HostLocks) HeldByOthers(host string) (bool, error) {
	hosts, err := h.Holders()
	if err != nil {
		return false, err
	}
	for _, other := range hosts {
		if other != host {
			return true, nil
		}
	}
	return false, nil
}

// WaitReleased blocks until no host other than host holds a lock, or ctx is
// done.
func (h HostLocks) WaitReleased(ctx context.Context, host string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(h.Dir); err != nil {
		return fmt.Errorf("watching lock directory: %w", err)
	}

	// Check after the watch is in place so a removal in between is seen.
	for {
		held, err := h.HeldByOthers(host)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("lock watcher closed")
			}
			if _, isLock := h.hostOf(filepath.Base(event.Name)); !isLock {
				continue
			}
			slog.Debug("lock directory changed", "event", event.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("lock watcher closed")
			}
			slog.Warn("lock watcher error", "error", err)
		}
	}
}
