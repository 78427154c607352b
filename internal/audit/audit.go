// Package audit appends one line per accepted command to a log file that
// the administrator created beforehand.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const unknownHost = "unknown"

// lookupTimeout bounds the reverse DNS lookup of the peer.
const lookupTimeout = 2 * time.Second

// Logger writes audit lines. The zero value is not usable; use New.
type Logger struct {
	path       string
	now        func() time.Time
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
}

// New returns a Logger for path. The file is never created: if it does not
// exist, Record does nothing.
func New(path string) *Logger {
	return &Logger{
		path:       path,
		now:        time.Now,
		lookupAddr: net.DefaultResolver.LookupAddr,
	}
}

// Record appends a line for argv. connection is the value of SSH_CONNECTION
// ("client_ip client_port server_ip server_port"), possibly empty.
func (l *Logger) Record(ctx context.Context, connection string, argv []string) error {
	if l.path == "" {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("audit log missing, skipping", "path", l.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	line := FormatLine(l.now(), l.peerHost(ctx, connection), argv)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// peerHost returns the client's host name, or its address when the reverse
// lookup fails, or "unknown" without a connection.
func (l *Logger) peerHost(ctx context.Context, connection string) string {
	fields := strings.Fields(connection)
	if len(fields) == 0 {
		return unknownHost
	}
	host := strings.TrimPrefix(fields[0], "::ffff:")
	if net.ParseIP(host) == nil {
		return host
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	names, err := l.lookupAddr(ctx, host)
	if err != nil || len(names) == 0 {
		slog.Debug("reverse lookup failed", "addr", host, "error", err)
		return host
	}
	return strings.TrimSuffix(names[0], ".")
}

// FormatLine renders one audit line: "HH:MM:SS host argv\n", with the host
// padded to 16 columns and argv as a list of quoted strings.
func FormatLine(t time.Time, host string, argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = strconv.Quote(a)
	}
	return fmt.Sprintf("%02d:%02d:%02d %-16s (%s)\n",
		t.Hour(), t.Minute(), t.Second(), host, strings.Join(quoted, ", "))
}
