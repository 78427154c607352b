// Package sysexec runs external programs for the gateway: the short-lived
// helpers (cryptsetup, mount, btrfs, git) and the final rsync hand-off.
package sysexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Command describes one program invocation.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, c Command) error
}

// ExitError reports a non-zero exit status of a child process.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// OSRunner runs commands as child processes. Unset stdio streams are
// inherited from the gateway process.
type OSRunner struct{}

// Run starts the command and waits for it. A non-zero exit is returned as
// *ExitError.
func (OSRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	slog.Debug("running command", "command", c.String(), "dir", c.Dir)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: c.Name, Code: exitCode(exitErr)}
	}
	if err != nil {
		return fmt.Errorf("running %s: %w", c.Name, err)
	}
	return nil
}

// exitCode returns the status a shell would report for the child: the exit
// status, or 128 plus the signal number when it was killed.
func exitCode(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := err.ExitCode(); code >= 0 {
		return code
	}
	return 1
}

// execFunc replaces the current process image. Tests override it.
var execFunc = unix.Exec

// Replace changes to dir and replaces the current process with argv. It
// only returns on failure.
func Replace(dir string, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty argument vector")
	}
	path := argv[0]
	if !strings.Contains(path, "/") {
		found, err := exec.LookPath(path)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", path, err)
		}
		path = found
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("unable to chdir to restricted dir: %w", err)
	}
	slog.Debug("replacing process", "path", path, "argv", argv)
	if err := execFunc(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s failed: %w", path, err)
	}
	return nil
}

// Spawn runs argv as a child in dir with the gateway's stdio and returns
// its exit status as *ExitError when non-zero.
func Spawn(ctx context.Context, r Runner, dir string, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty argument vector")
	}
	return r.Run(ctx, Command{Name: argv[0], Args: argv[1:], Dir: dir})
}
