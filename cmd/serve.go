package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/gartnera/restricted-backup/config"
	rsync_restricted "github.com/gartnera/restricted-backup/tool/rsync_restricted"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an MCP server over stdio for dry-running rsync commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// checker holds the settings the check tool reads; they follow config
// file changes while the server runs.
type checker struct {
	mu        sync.RWMutex
	rsyncPath string
}

func newChecker(cfg *config.Config) *checker {
	return &checker{rsyncPath: cfg.Rsync()}
}

func (c *checker) UpdateConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rsyncPath = cfg.Rsync()
}

func (c *checker) Check(dir, line string, mode rsync_restricted.Mode) ([]string, error) {
	c.mu.RLock()
	rsyncPath := c.rsyncPath
	c.mu.RUnlock()
	return checkCommand(dir, line, mode, rsyncPath)
}

// NewMCPServer creates the MCP server with default settings.
func NewMCPServer() *server.MCPServer {
	return newMCPServer(newChecker(&config.Config{}))
}

func newMCPServer(c *checker) *server.MCPServer {
	s := server.NewMCPServer(
		"restricted-backup",
		"0.1.0",
	)

	checkTool := mcp.NewTool(
		"check_rsync_command",
		mcp.WithDescription("Validate an rsync server command line (as sent over ssh) against a restricted directory, without running it. Returns the argument vector rsync would be started with, one per line, or the reason the command is rejected."),
		mcp.WithString("dir",
			mcp.Description("The restricted directory"),
			mcp.Required(),
		),
		mcp.WithString("command",
			mcp.Description("The command line, e.g. 'rsync --server -vlogDtpre.iLsfxC . data/'"),
			mcp.Required(),
		),
		mcp.WithBoolean("read_only", mcp.Description("Allow only reading from dir")),
		mcp.WithBoolean("write_only", mcp.Description("Allow only writing to dir")),
		mcp.WithBoolean("no_delete", mcp.Description("Disable --delete* and --remove* options")),
		mcp.WithBoolean("munge", mcp.Description("Add --munge-links on the server side")),
	)

	s.AddTool(checkTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dir, err := request.RequireString("dir")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: dir"), nil
		}
		line, err := request.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: command"), nil
		}
		flags := modeFlags{
			readOnly:  request.GetBool("read_only", false),
			writeOnly: request.GetBool("write_only", false),
			noDelete:  request.GetBool("no_delete", false),
			munge:     request.GetBool("munge", false),
		}
		if flags.readOnly && flags.writeOnly {
			return mcp.NewToolResultError("read_only and write_only are mutually exclusive"), nil
		}

		argv, err := c.Check(dir, line, flags.mode())
		if err != nil {
			var rej *rsync_restricted.RejectError
			if errors.As(err, &rej) {
				return mcp.NewToolResultError(fmt.Sprintf("rejected (%s): %s", rej.Kind, rej.Reason)), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(strings.Join(argv, "\n") + "\n"), nil
	})
	return s
}

func runServe() error {
	slog.Info("starting MCP server")

	cfg, err := loadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = &config.Config{}
	}
	c := newChecker(cfg)
	slog.Info("loaded config", "rsync_path", cfg.Rsync())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := watchConfig(ctx, func(cfg *config.Config) {
			c.UpdateConfig(cfg)
			slog.Info("reloaded config", "rsync_path", cfg.Rsync())
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("config watcher failed", "error", err)
		}
	}()

	return server.ServeStdio(newMCPServer(c))
}
