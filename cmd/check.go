package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	rsync_restricted "github.com/gartnera/restricted-backup/tool/rsync_restricted"
)

var checkFlags modeFlags

var checkCmd = &cobra.Command{
	Use:   "check DIR COMMAND...",
	Short: "Validate an rsync server command without running it",
	Long: `Runs the same validation as "gate" on COMMAND, for example

  restricted-backup check --ro /srv/backup 'rsync --server --sender -vlogDtpre.iLsfxC . data/'

and prints the argument vector rsync would be started with, one per line.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		line := strings.Join(args[1:], " ")
		return runCheck(cmd.OutOrStdout(), args[0], line, checkFlags.mode(), cfg.Rsync())
	},
}

func init() {
	checkFlags.register(checkCmd)
	// Everything after DIR belongs to the rsync command.
	checkCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(checkCmd)
}

func runCheck(w io.Writer, dir, line string, mode rsync_restricted.Mode, rsyncPath string) error {
	argv, err := checkCommand(dir, line, mode, rsyncPath)
	if err != nil {
		return err
	}
	for _, a := range argv {
		fmt.Fprintln(w, a)
	}
	return nil
}

func checkCommand(dir, line string, mode rsync_restricted.Mode, rsyncPath string) ([]string, error) {
	gw, err := rsync_restricted.New(dir, mode, rsyncPath)
	if err != nil {
		return nil, err
	}
	c, err := gw.Parse(line)
	if err != nil {
		return nil, err
	}
	return c.Argv(), nil
}
