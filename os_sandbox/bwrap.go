// Package os_sandbox confines the rsync child with bubblewrap, so that even
// a compromised rsync only sees the restricted dir as writable.
package os_sandbox

import (
	"os/exec"
)

// Binary is the bubblewrap executable.
const Binary = "bwrap"

// Available reports whether bubblewrap can be found in PATH.
func Available() bool {
	_, err := exec.LookPath(Binary)
	return err == nil
}

// Wrap returns argv prefixed with a bwrap invocation that runs it in dir.
//
// Strategy: bind the root filesystem read-only, give the process a private
// /tmp, then bind dir on top (read-only when readOnly). Later mounts
// override earlier ones, so dir is bound last. All namespaces are unshared,
// network included: rsync --server talks over its stdio only.
func Wrap(dir string, readOnly bool, argv []string) []string {
	bind := "--bind"
	if readOnly {
		bind = "--ro-bind"
	}
	args := []string{
		Binary,
		"--ro-bind", "/", "/",
		"--tmpfs", "/tmp",
		bind, dir, dir,
		"--dev", "/dev",
		"--proc", "/proc",
		"--unshare-all",
		"--die-with-parent",
		"--chdir", dir,
		"--",
	}
	return append(args, argv...)
}
