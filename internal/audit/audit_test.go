package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLogger(path string, names []string, lookupErr error) *Logger {
	l := New(path)
	l.now = func() time.Time { return time.Date(2026, 10, 17, 7, 5, 9, 0, time.UTC) }
	l.lookupAddr = func(ctx context.Context, addr string) ([]string, error) {
		return names, lookupErr
	}
	return l
}

func TestFormatLine(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := FormatLine(ts, "backup.lan", []string{"/usr/bin/rsync", "--server", "my file"})
	want := "03:04:05 backup.lan       (\"/usr/bin/rsync\", \"--server\", \"my file\")\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRecord_MissingFileSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rrsync.log")
	l := newTestLogger(path, nil, nil)
	if err := l.Record(context.Background(), "", []string{"rsync"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("audit log must not be created, stat err = %v", err)
	}
}

func TestRecord_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rrsync.log")
	if err := os.WriteFile(path, []byte("previous\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		connection string
		names      []string
		lookupErr  error
		wantHost   string
	}{
		{"no connection", "", nil, nil, "unknown"},
		{"resolved", "192.0.2.10 50000 192.0.2.1 22", []string{"client.example.", "alias."}, nil, "client.example"},
		{"mapped ipv4 unresolved", "::ffff:192.0.2.10 50000 192.0.2.1 22", nil, errors.New("no such host"), "192.0.2.10"},
		{"ipv6 unresolved", "2001:db8::1 50000 2001:db8::2 22", nil, errors.New("no such host"), "2001:db8::1"},
	}
	var want string
	for _, tt := range tests {
		l := newTestLogger(path, tt.names, tt.lookupErr)
		if err := l.Record(context.Background(), tt.connection, []string{"rsync", "--server"}); err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		want += FormatLine(l.now(), tt.wantHost, []string{"rsync", "--server"})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "previous\n"+want {
		t.Fatalf("unexpected log contents:\n%s", data)
	}
}

func TestRecord_EmptyPath(t *testing.T) {
	if err := New("").Record(context.Background(), "", []string{"rsync"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
