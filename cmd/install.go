package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"
)

var (
	installFlags          modeFlags
	installNoLock         bool
	installAuthorizedKeys string
)

var installCmd = &cobra.Command{
	Use:   "install PUBKEY_FILE DIR",
	Short: "Restrict an ssh key to this gateway",
	Long: `Adds the public key in PUBKEY_FILE to authorized_keys with a forced command
running "restricted-backup gate" on DIR, and the "restrict" option so the key
cannot forward ports or allocate a terminal.

Running install again for the same key replaces its entry.`,
	Args: cobra.ExactArgs(2),
	RunE: runInstall,
}

func init() {
	installFlags.register(installCmd)
	installCmd.Flags().BoolVar(&installNoLock, "no-lock", false, "Install the gate with --no-lock")
	installCmd.Flags().StringVar(&installAuthorizedKeys, "authorized-keys", "", "authorized_keys file (default ~/.ssh/authorized_keys)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	binPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	binPath, err = filepath.EvalSymlinks(binPath)
	if err != nil {
		return fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	keyData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}
	dir, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}

	akPath := installAuthorizedKeys
	if akPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		akPath = filepath.Join(homeDir, ".ssh", "authorized_keys")
	}

	command, err := forcedCommand(binPath, dir, gateArgs(installFlags, installNoLock))
	if err != nil {
		return err
	}
	if err := configureAuthorizedKeys(akPath, string(keyData), command); err != nil {
		return fmt.Errorf("failed to configure %s: %w", akPath, err)
	}
	fmt.Printf("✓ Restricted key in %s\n", akPath)
	return nil
}

func gateArgs(m modeFlags, noLock bool) []string {
	var args []string
	if m.readOnly {
		args = append(args, "--ro")
	}
	if m.writeOnly {
		args = append(args, "--wo")
	}
	if m.munge {
		args = append(args, "--munge")
	}
	if m.noDelete {
		args = append(args, "--no-del")
	}
	if noLock {
		args = append(args, "--no-lock")
	}
	return args
}

// forcedCommand builds the shell command sshd runs for the key.
func forcedCommand(binPath, dir string, flags []string) (string, error) {
	words := append([]string{binPath, "gate"}, flags...)
	words = append(words, dir)
	for i, w := range words {
		q, err := syntax.Quote(w, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("cannot quote %q: %w", w, err)
		}
		words[i] = q
	}
	return strings.Join(words, " "), nil
}

// keyFields splits a public key line into its type, base64 blob and
// comment.
func keyFields(line string) (keyType, blob, comment string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "AAAA") {
		return "", "", "", fmt.Errorf("not an ssh public key: %q", line)
	}
	return fields[0], fields[1], strings.Join(fields[2:], " "), nil
}

func authorizedKeysLine(key, command string) (string, error) {
	keyType, blob, comment, err := keyFields(strings.TrimSpace(key))
	if err != nil {
		return "", err
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(command)
	line := fmt.Sprintf(`command="%s",restrict %s %s`, escaped, keyType, blob)
	if comment != "" {
		line += " " + comment
	}
	return line, nil
}

// configureAuthorizedKeys adds or replaces the entry for key, preserving
// every other line of the file.
func configureAuthorizedKeys(path, key, command string) error {
	entry, err := authorizedKeysLine(key, command)
	if err != nil {
		return err
	}
	_, blob, _, _ := keyFields(strings.TrimSpace(key))

	var lines []string
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
	} else {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}

	replaced := false
	for i, l := range lines {
		if strings.Contains(" "+l+" ", " "+blob+" ") {
			lines[i] = entry
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}
