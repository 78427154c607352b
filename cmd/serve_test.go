package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gartnera/restricted-backup/config"
)

func setupClient(t *testing.T, c *checker) *client.Client {
	t.Helper()
	ctx := context.Background()

	s := NewMCPServer()
	if c != nil {
		s = newMCPServer(c)
	}
	cl, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("failed to create in-process client: %v", err)
	}
	t.Cleanup(func() { cl.Close() })

	_, err = cl.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "test-client",
				Version: "0.0.1",
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	return cl
}

func callCheck(t *testing.T, cl *client.Client, args map[string]any) (string, bool) {
	t.Helper()
	result, err := cl.CallTool(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "check_rsync_command",
			Arguments: args,
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content in result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return text.Text, result.IsError
}

func testRoot(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestCheckTool_Accepted(t *testing.T) {
	cl := setupClient(t, nil)
	text, isErr := callCheck(t, cl, map[string]any{
		"dir":     testRoot(t),
		"command": "rsync --server -vlogDtpre.iLsfxC . backups/",
	})
	if isErr {
		t.Fatalf("expected success, got error: %s", text)
	}
	want := "/usr/bin/rsync\n--server\n-vlogDtpre.iLsfxC\n--\n.\nbackups/\n"
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
}

func TestCheckTool_Rejected(t *testing.T) {
	cl := setupClient(t, nil)
	text, isErr := callCheck(t, cl, map[string]any{
		"dir":     testRoot(t),
		"command": "rsync --server -vlogDtpre.iLsfxC . ../../etc",
	})
	if !isErr {
		t.Fatalf("expected rejection, got %q", text)
	}
	if !strings.Contains(text, "boundary") || !strings.Contains(text, "do not use ..") {
		t.Fatalf("unexpected message %q", text)
	}
}

func TestCheckTool_Modes(t *testing.T) {
	cl := setupClient(t, nil)
	root := testRoot(t)

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
		want    string
	}{
		{
			name:    "read only push",
			args:    map[string]any{"command": "rsync --server -vlogDtpre.iLsfxC . x", "read_only": true},
			wantErr: "sending to read-only server is not allowed",
		},
		{
			name:    "write only pull",
			args:    map[string]any{"command": "rsync --server --sender -vlogDtpre.iLsfxC . x", "write_only": true},
			wantErr: "reading from write-only server is not allowed",
		},
		{
			name:    "both",
			args:    map[string]any{"command": "rsync --server . x", "read_only": true, "write_only": true},
			wantErr: "mutually exclusive",
		},
		{
			name:    "no delete",
			args:    map[string]any{"command": "rsync --server --delete . x", "no_delete": true},
			wantErr: "option --delete has been disabled on this server.",
		},
		{
			name: "munge",
			args: map[string]any{"command": "rsync --server -vlogDtpre.iLsfxC . x", "munge": true},
			want: "--munge-links\n--\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.args["dir"] = root
			text, isErr := callCheck(t, cl, tt.args)
			if tt.wantErr != "" {
				if !isErr || !strings.Contains(text, tt.wantErr) {
					t.Fatalf("expected error containing %q, got %q (error=%v)", tt.wantErr, text, isErr)
				}
				return
			}
			if isErr || !strings.Contains(text, tt.want) {
				t.Fatalf("expected output containing %q, got %q (error=%v)", tt.want, text, isErr)
			}
		})
	}
}

func TestCheckTool_MissingParameter(t *testing.T) {
	cl := setupClient(t, nil)
	text, isErr := callCheck(t, cl, map[string]any{"command": "rsync --server . x"})
	if !isErr || !strings.Contains(text, "dir") {
		t.Fatalf("expected missing dir error, got %q", text)
	}
}

func TestCheckTool_ConfigUpdate(t *testing.T) {
	c := newChecker(&config.Config{})
	cl := setupClient(t, c)
	c.UpdateConfig(&config.Config{RsyncPath: "/opt/rsync/bin/rsync"})

	text, isErr := callCheck(t, cl, map[string]any{
		"dir":     testRoot(t),
		"command": "rsync --server . x",
	})
	if isErr || !strings.HasPrefix(text, "/opt/rsync/bin/rsync\n") {
		t.Fatalf("expected reloaded rsync path, got %q", text)
	}
}

func TestListTools(t *testing.T) {
	cl := setupClient(t, nil)
	ctx := context.Background()

	tools, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools.Tools))
	}
	if tools.Tools[0].Name != "check_rsync_command" {
		t.Fatalf("expected tool name 'check_rsync_command', got %q", tools.Tools[0].Name)
	}
}
