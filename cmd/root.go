package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gartnera/restricted-backup/config"
	"github.com/gartnera/restricted-backup/internal/sysexec"
)

const errorPrefix = "restricted-backup error: "

var (
	logLevel   string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "restricted-backup",
	Short: "Restricted ssh forced command for rsync and btrfs backups",
	Long: `restricted-backup is installed as the forced command of an ssh key. It
validates the command the client asked for (SSH_ORIGINAL_COMMAND) and only
runs rsync confined to one directory, or one of the backup drive commands.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := parseLogLevel(logLevel)
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is the user config dir, or $"+config.PathEnv+")")
}

// parseLogLevel converts a string level name to slog.Level.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.Path()
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Load()
	}
	return config.LoadFile(configFile)
}

func saveConfig(cfg *config.Config) error {
	if configFile == "" {
		return config.Save(cfg)
	}
	return config.SaveFile(configFile, cfg)
}

func watchConfig(ctx context.Context, onChange func(*config.Config)) error {
	if configFile == "" {
		return config.Watch(ctx, onChange)
	}
	return config.WatchFile(ctx, configFile, onChange)
}

// reportError writes the single diagnostic line for err and returns the
// process exit code. A bare exit status of a child is passed through
// without a message.
func reportError(w io.Writer, cmd *cobra.Command, err error, interactive bool) int {
	if exitErr, ok := err.(*sysexec.ExitError); ok {
		return exitErr.Code
	}
	fmt.Fprintf(w, "%s%v\n", errorPrefix, err)
	if interactive && cmd != nil {
		fmt.Fprint(w, cmd.UsageString())
	}
	return 1
}

func Execute() {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		os.Exit(reportError(os.Stderr, cmd, err, term.IsTerminal(int(os.Stdin.Fd()))))
	}
}
