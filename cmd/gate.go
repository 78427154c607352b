package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gartnera/restricted-backup/config"
	"github.com/gartnera/restricted-backup/internal/audit"
	"github.com/gartnera/restricted-backup/internal/device"
	"github.com/gartnera/restricted-backup/internal/lock"
	"github.com/gartnera/restricted-backup/internal/snapshot"
	"github.com/gartnera/restricted-backup/internal/sysexec"
	"github.com/gartnera/restricted-backup/os_sandbox"
	rsync_restricted "github.com/gartnera/restricted-backup/tool/rsync_restricted"
)

// closeWaitTimeout bounds "close <host> --wait".
const closeWaitTimeout = 10 * time.Minute

// modeFlags are the restrictions shared by gate and check.
type modeFlags struct {
	readOnly  bool
	writeOnly bool
	munge     bool
	noDelete  bool
}

func (m *modeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&m.readOnly, "ro", false, "Allow only reading from DIR. Implies --no-del and --no-lock.")
	cmd.Flags().BoolVar(&m.writeOnly, "wo", false, "Allow only writing to DIR.")
	cmd.Flags().BoolVar(&m.munge, "munge", false, "Enable rsync's --munge-links on the server side.")
	cmd.Flags().BoolVar(&m.noDelete, "no-del", false, "Disable rsync's --delete* and --remove* options.")
	cmd.MarkFlagsMutuallyExclusive("ro", "wo")
}

func (m *modeFlags) mode() rsync_restricted.Mode {
	return rsync_restricted.Mode{
		ReadOnly:  m.readOnly,
		WriteOnly: m.writeOnly,
		NoDelete:  m.noDelete || m.readOnly,
		Munge:     m.munge,
	}
}

var (
	gateFlags  modeFlags
	gateNoLock bool
)

var gateCmd = &cobra.Command{
	Use:   "gate DIR",
	Short: "Run the command requested over ssh, restricted to DIR",
	Long: `Reads SSH_ORIGINAL_COMMAND and runs it if allowed. Supported commands:

  rsync --server ...            rsync confined to DIR
  open <host>                   decrypt and mount the backup drive
  close <host> [--wait]         unmount and encrypt the drive once unused
  snapshot <host>               take today's read-only snapshots
  btrfs <host> parent           print the newest received snapshot
  btrfs <host> receive <subv>   receive a btrfs send stream
  update [dir]                  git pull the installed checkout

Use it as the forced command of an authorized_keys entry.`,
	Args: cobra.ExactArgs(1),
	RunE: runGate,
}

func init() {
	gateFlags.register(gateCmd)
	gateCmd.Flags().BoolVar(&gateNoLock, "no-lock", false, "Avoid the single-run (per-user) lock check.")
	rootCmd.AddCommand(gateCmd)
}

func runGate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	g, err := newGate(cfg, args[0], gateFlags.mode(), gateNoLock)
	if err != nil {
		return err
	}

	if !gateNoLock && !gateFlags.readOnly {
		l, err := lock.TryDir(g.gateway.Root())
		if err != nil {
			return err
		}
		defer l.Release()
	}

	return g.run(cmd.Context(), os.Getenv("SSH_ORIGINAL_COMMAND"))
}

// backupDevice is the encrypted drive as seen by the gate.
type backupDevice interface {
	Open(ctx context.Context) error
	Mount(ctx context.Context) error
	Unmount(ctx context.Context) error
	Close(ctx context.Context) error
	Mounted() bool
}

// gate dispatches one SSH_ORIGINAL_COMMAND.
type gate struct {
	gateway      *rsync_restricted.Gateway
	replaceImage bool
	requireMount bool
	osSandbox    bool
	updateDir    string
	connection   string

	runner    sysexec.Runner
	replace   func(dir string, argv []string) error
	device    backupDevice
	locks     lock.HostLocks
	snapshots *snapshot.Manager
	audit     *audit.Logger
	stdout    io.Writer
}

func newGate(cfg *config.Config, dir string, mode rsync_restricted.Mode, noLock bool) (*gate, error) {
	gw, err := rsync_restricted.New(dir, mode, cfg.Rsync())
	if err != nil {
		return nil, err
	}
	lockDir, err := cfg.Locks()
	if err != nil {
		return nil, err
	}
	if cfg.OSSandboxEnabled() && !os_sandbox.Available() {
		return nil, errors.New("os_sandbox is enabled but bwrap was not found")
	}

	runner := sysexec.OSRunner{}
	dev := device.New(cfg.BlockDevice(), cfg.Mapped(), cfg.Mount(), runner)
	return &gate{
		gateway:      gw,
		replaceImage: noLock,
		requireMount: cfg.MountRequired(),
		osSandbox:    cfg.OSSandboxEnabled(),
		updateDir:    cfg.Update(),
		connection:   os.Getenv("SSH_CONNECTION"),
		runner:       runner,
		replace:      sysexec.Replace,
		device:       dev,
		locks:        lock.HostLocks{Dir: lockDir, Device: cfg.Mapped()},
		snapshots: &snapshot.Manager{
			MountPoint: cfg.Mount(),
			Keep:       cfg.Keep(),
			Runner:     runner,
			Mounted:    dev.Mounted,
			Stdin:      os.Stdin,
			Stdout:     os.Stdout,
		},
		audit:  audit.New(cfg.AuditLog()),
		stdout: os.Stdout,
	}, nil
}

func (g *gate) run(ctx context.Context, line string) error {
	parts := strings.Split(line, " ")
	slog.Debug("dispatching command", "command", parts[0])

	switch parts[0] {
	case "rsync", "":
		if line != "" && g.requireMount && !g.device.Mounted() {
			return device.ErrNotMounted
		}
		return g.rsync(ctx, line)
	case "open":
		if len(parts) != 2 {
			return errors.New("No hostname supplied, unable to open backup drive")
		}
		return g.open(ctx, parts[1])
	case "close":
		wait := len(parts) == 3 && parts[2] == "--wait"
		if len(parts) != 2 && !wait {
			return errors.New("No hostname supplied, unable to close backup drive")
		}
		return g.close(ctx, parts[1], wait)
	case "snapshot":
		if len(parts) != 2 {
			return errors.New("No hostname supplied, unable to determine files to snapshot")
		}
		return g.snapshot(ctx, parts[1])
	case "btrfs":
		return g.btrfs(ctx, parts[1:])
	case "update":
		return g.update(ctx, parts[1:])
	default:
		return errors.New("Incorrect command")
	}
}

// rsync validates the rsync command line and hands over to rsync.
func (g *gate) rsync(ctx context.Context, line string) error {
	c, err := g.gateway.Parse(line)
	if err != nil {
		return err
	}
	argv := c.Argv()
	if err := g.audit.Record(ctx, g.connection, argv); err != nil {
		slog.Warn("failed to write audit log", "error", err)
	}
	if g.osSandbox {
		argv = os_sandbox.Wrap(c.Dir, g.gateway.Mode().ReadOnly, argv)
	}
	if g.replaceImage {
		return g.replace(c.Dir, argv)
	}
	return sysexec.Spawn(ctx, g.runner, c.Dir, argv)
}

func validHost(host string) error {
	if !snapshot.ValidName(host) {
		return fmt.Errorf("invalid host name %q", host)
	}
	return nil
}

func (g *gate) open(ctx context.Context, host string) error {
	if err := validHost(host); err != nil {
		return err
	}
	if err := g.device.Open(ctx); err != nil {
		return err
	}
	if err := g.device.Mount(ctx); err != nil {
		return err
	}
	if err := g.locks.Acquire(host); err != nil {
		return err
	}
	fmt.Fprintln(g.stdout, "Backup drive successfully decrypted and mounted")
	return nil
}

func (g *gate) close(ctx context.Context, host string, wait bool) error {
	if err := validHost(host); err != nil {
		return err
	}
	if err := g.locks.Release(host); err != nil {
		if !errors.Is(err, lock.ErrNoLock) {
			return err
		}
		fmt.Fprintln(g.stdout, err)
	}

	held, err := g.locks.HeldByOthers(host)
	if err != nil {
		return err
	}
	if held {
		if !wait {
			fmt.Fprintln(g.stdout, "Device is currently in use, not closing")
			return nil
		}
		slog.Info("waiting for other hosts to release the drive", "host", host)
		waitCtx, cancel := context.WithTimeout(ctx, closeWaitTimeout)
		defer cancel()
		if err := g.locks.WaitReleased(waitCtx, host); err != nil {
			return fmt.Errorf("waiting for other hosts: %w", err)
		}
	}

	if err := g.device.Unmount(ctx); err != nil {
		return err
	}
	if err := g.device.Close(ctx); err != nil {
		return err
	}
	fmt.Fprintln(g.stdout, "Backup drive successfully unmounted and encrypted")
	return nil
}

func (g *gate) snapshot(ctx context.Context, host string) error {
	err := g.snapshots.Create(ctx, host)
	if errors.Is(err, snapshot.ErrExists) {
		fmt.Fprintln(g.stdout, err)
	} else if err != nil {
		return err
	}
	return g.snapshots.Prune(ctx, host)
}

func (g *gate) btrfs(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("Not enough parameters for btrfs command")
	}
	host := args[0]
	switch args[1] {
	case "parent":
		parent, err := g.snapshots.Parent(host)
		if err != nil {
			return err
		}
		fmt.Fprintln(g.stdout, parent)
		return nil
	case "receive":
		if len(args) < 3 {
			return errors.New("Not enough parameters for btrfs command")
		}
		if err := g.snapshots.Receive(ctx, host, args[2]); err != nil {
			return err
		}
		return g.snapshots.PruneReceived(ctx, host)
	default:
		return errors.New("Unknown command")
	}
}

func (g *gate) update(ctx context.Context, args []string) error {
	dir := g.updateDir
	if len(args) > 0 && filepath.Clean(args[0]) != filepath.Clean(dir) {
		return fmt.Errorf("updating %s is not allowed", args[0])
	}
	if info, err := os.Stat(filepath.Join(dir, ".git")); err != nil || !info.IsDir() {
		return errors.New("Not a git repository, unable to run git update")
	}
	return g.runner.Run(ctx, sysexec.Command{
		Name:   "git",
		Args:   []string{"pull"},
		Dir:    dir,
		Stdout: g.stdout,
	})
}
