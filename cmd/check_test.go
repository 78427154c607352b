package cmd

import (
	"bytes"
	"errors"
	"testing"

	rsync_restricted "github.com/gartnera/restricted-backup/tool/rsync_restricted"
)

func TestRunCheck(t *testing.T) {
	root := testRoot(t)
	var buf bytes.Buffer
	err := runCheck(&buf, root, "rsync --server --sender -vlogDtpre.iLsfxC . /logs/", rsync_restricted.Mode{ReadOnly: true}, "/usr/bin/rsync")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/usr/bin/rsync\n--server\n--sender\n-vlogDtpre.iLsfxC\n--\n.\nlogs/\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func TestRunCheck_Rejected(t *testing.T) {
	var buf bytes.Buffer
	err := runCheck(&buf, testRoot(t), "rsync --server --daemon . x", rsync_restricted.Mode{}, "")
	var rej *rsync_restricted.RejectError
	if !errors.As(err, &rej) || rej.Kind != rsync_restricted.KindPolicy {
		t.Fatalf("expected policy rejection, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestRunCheck_MissingDir(t *testing.T) {
	err := runCheck(&bytes.Buffer{}, "/nonexistent/restricted", "rsync --server . x", rsync_restricted.Mode{}, "")
	if err == nil {
		t.Fatal("expected error for missing dir")
	}
}
