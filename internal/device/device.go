// Package device opens and closes the LUKS-encrypted backup drive and mounts
// it, by running cryptsetup, mount and umount.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gartnera/restricted-backup/internal/sysexec"
	"golang.org/x/sys/unix"
)

var (
	ErrDecrypt    = errors.New("Unable to decrypt backup drive")
	ErrNotOpen    = errors.New("Backup drive is not decrypted")
	ErrMount      = errors.New("Unable to mount backup drive, it has been reencrypted")
	ErrUnmount    = errors.New("Unable to unmount backup drive")
	ErrClose      = errors.New("Unable to encrypt backup drive")
	ErrNotMounted = errors.New("Backup drive is not mounted")
)

// Device is one encrypted block device, its device-mapper name and the
// mount point of the opened filesystem.
type Device struct {
	Path       string
	MappedName string
	MountPoint string
	Runner     sysexec.Runner

	// Key material for cryptsetup is read from KeyInput.
	KeyInput io.Reader

	exists  func(path string) bool
	mounted func(path string) bool
}

// New returns a Device that runs its helpers with r.
func New(path, mappedName, mountPoint string, r sysexec.Runner) *Device {
	return &Device{
		Path:       path,
		MappedName: mappedName,
		MountPoint: mountPoint,
		Runner:     r,
		KeyInput:   os.Stdin,
		exists:     pathExists,
		mounted:    IsMountPoint,
	}
}

// MapperPath is the path of the opened device.
func (d *Device) MapperPath() string {
	return filepath.Join("/dev/mapper", d.MappedName)
}

// IsOpen reports whether the device has been decrypted.
func (d *Device) IsOpen() bool {
	return d.exists(d.MapperPath())
}

// Mounted reports whether the mount point has a filesystem mounted.
func (d *Device) Mounted() bool {
	return d.mounted(d.MountPoint)
}

// Open decrypts the device unless it is already open.
func (d *Device) Open(ctx context.Context) error {
	if d.IsOpen() {
		slog.Info("backup drive already decrypted", "device", d.MapperPath())
		return nil
	}
	err := d.Runner.Run(ctx, sysexec.Command{
		Name:  "nice",
		Args:  []string{"-n", "10", "cryptsetup", "open", d.Path, d.MappedName, "--key-file=-"},
		Stdin: d.KeyInput,
	})
	if !d.IsOpen() {
		slog.Warn("cryptsetup open failed", "device", d.Path, "error", err)
		return ErrDecrypt
	}
	return err
}

// Mount mounts the opened device unless something is mounted already. If
// mounting fails the device is closed again.
func (d *Device) Mount(ctx context.Context) error {
	if d.Mounted() {
		return nil
	}
	if !d.IsOpen() {
		return ErrNotOpen
	}
	err := d.Runner.Run(ctx, sysexec.Command{
		Name: "mount",
		Args: []string{"-o", "compress=lzo", d.MapperPath(), d.MountPoint},
	})
	if err == nil && d.Mounted() {
		return nil
	}
	slog.Warn("mount failed, closing device", "mount_point", d.MountPoint, "error", err)
	if cerr := d.Close(ctx); cerr != nil {
		return fmt.Errorf("%w: %v", ErrMount, cerr)
	}
	return ErrMount
}

// Unmount unmounts the mount point.
func (d *Device) Unmount(ctx context.Context) error {
	err := d.Runner.Run(ctx, sysexec.Command{Name: "umount", Args: []string{d.MountPoint}})
	if d.Mounted() {
		slog.Warn("umount failed", "mount_point", d.MountPoint, "error", err)
		return ErrUnmount
	}
	return err
}

// Close locks the device again.
func (d *Device) Close(ctx context.Context) error {
	err := d.Runner.Run(ctx, sysexec.Command{Name: "cryptsetup", Args: []string{"close", d.MapperPath()}})
	if d.IsOpen() {
		slog.Warn("cryptsetup close failed", "device", d.MapperPath(), "error", err)
		return ErrClose
	}
	return err
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsMountPoint reports whether path is a mount point: it is a directory
// that lives on a different device than its parent, or it is the same
// inode as its parent (the root).
func IsMountPoint(path string) bool {
	var st, parent unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return false
	}
	if err := unix.Lstat(filepath.Join(path, ".."), &parent); err != nil {
		return false
	}
	if st.Dev != parent.Dev {
		return true
	}
	return st.Ino == parent.Ino
}
