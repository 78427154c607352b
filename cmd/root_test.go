package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/gartnera/restricted-backup/internal/sysexec"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelWarn},
		{"verbose", slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReportError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		interactive bool
		wantCode    int
		wantOut     string
		wantUsage   bool
	}{
		{
			name:     "rejection",
			err:      errors.New("option --daemon has been disabled on this server."),
			wantCode: 1,
			wantOut:  "restricted-backup error: option --daemon has been disabled on this server.\n",
		},
		{
			name:        "interactive rejection",
			err:         errors.New("Incorrect command"),
			interactive: true,
			wantCode:    1,
			wantUsage:   true,
		},
		{
			name:     "child exit status",
			err:      &sysexec.ExitError{Command: "rsync", Code: 23},
			wantCode: 23,
		},
		{
			name:     "wrapped exit status is reported",
			err:      fmt.Errorf("deleting snapshot: %w", &sysexec.ExitError{Command: "btrfs", Code: 1}),
			wantCode: 1,
			wantOut:  "restricted-backup error: deleting snapshot: btrfs exited with status 1\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			code := reportError(&buf, gateCmd, tt.err, tt.interactive)
			if code != tt.wantCode {
				t.Fatalf("expected exit code %d, got %d", tt.wantCode, code)
			}
			out := buf.String()
			if tt.wantOut != "" && out != tt.wantOut {
				t.Fatalf("expected %q, got %q", tt.wantOut, out)
			}
			if tt.wantUsage != strings.Contains(out, "Usage:") {
				t.Fatalf("usage printed = %v, want %v:\n%s", !tt.wantUsage, tt.wantUsage, out)
			}
			if tt.wantCode != 1 && out != "" {
				t.Fatalf("expected no output for child exit status, got %q", out)
			}
		})
	}
}
