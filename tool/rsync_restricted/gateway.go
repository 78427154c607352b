// Package rsync_restricted confines an rsync server invocation, received as
// an untrusted command line, to a single directory tree.
package rsync_restricted

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRsyncPath is used when no rsync binary is configured.
const DefaultRsyncPath = "/usr/bin/rsync"

var errRootMissing = errors.New("restricted directory does not exist")

// Gateway validates rsync server commands against one restricted dir.
type Gateway struct {
	root      string
	mode      Mode
	rsyncPath string
}

// New returns a Gateway for dir, which must be an existing directory. The
// dir is canonicalized once; every later check compares against it.
func New(dir string, mode Mode, rsyncPath string) (*Gateway, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving restricted dir: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errRootMissing
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errRootMissing
	}
	if mode.ReadOnly {
		mode.NoDelete = true
	}
	if rsyncPath == "" {
		rsyncPath = DefaultRsyncPath
	}
	return &Gateway{root: root, mode: mode, rsyncPath: rsyncPath}, nil
}

// Root returns the canonical restricted dir.
func (g *Gateway) Root() string { return g.root }

// Mode returns the session mode after implied restrictions were applied.
func (g *Gateway) Mode() Mode { return g.mode }

// Parse validates the full command line sent by the ssh client, of the
// form "rsync --server [--sender] OPTIONS . OPERANDS", and returns the
// command to run. Any failure is a *RejectError.
func (g *Gateway) Parse(line string) (*Command, error) {
	if line == "" {
		return nil, reject(KindInvocation, "", "Not invoked via sshd")
	}
	parts := strings.SplitN(line, " ", 3)
	if parts[0] != "rsync" {
		return nil, reject(KindInvocation, "", "SSH_ORIGINAL_COMMAND does not run rsync")
	}
	if len(parts) < 2 || parts[1] != roleMarker {
		return nil, reject(KindInvocation, "", "--server option is not the first arg")
	}
	rest := ""
	if len(parts) == 3 {
		rest = parts[2]
	}

	// Only the exact client spelling counts as a pull.
	sender := strings.HasPrefix(rest, "--sender ")
	if g.mode.ReadOnly && !sender {
		return nil, reject(KindPolicy, "", "sending to read-only server is not allowed")
	}
	if g.mode.WriteOnly && sender {
		return nil, reject(KindPolicy, "", "reading from write-only server is not allowed")
	}

	tokens, err := Tokenize(rest)
	if err != nil {
		return nil, err
	}
	policy := NewPolicy(g.root, g.mode, sender)
	c := newClassifier(policy, sender)
	if err := c.run(tokens); err != nil {
		slog.Debug("rejected rsync command", "error", err, "state", c.state.String())
		return nil, err
	}

	options := c.options
	if g.mode.Munge {
		options = append(options, mungeLinks)
	}
	cmd := &Command{
		Path:     g.rsyncPath,
		Dir:      g.root,
		Sender:   sender,
		Options:  options,
		Operands: c.operands,
	}
	slog.Debug("accepted rsync command", "argv", cmd.Argv())
	return cmd, nil
}
