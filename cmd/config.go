package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gartnera/restricted-backup/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var configShowEffective bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if configShowEffective {
			if cfg, err = effectiveConfig(cfg); err != nil {
				return err
			}
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowEffective, "effective", false, "Fill in defaults for unset values")
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// effectiveConfig returns cfg with every default spelled out.
func effectiveConfig(cfg *config.Config) (*config.Config, error) {
	lockDir, err := cfg.Locks()
	if err != nil {
		return nil, err
	}
	requireMount := cfg.MountRequired()
	osSandbox := cfg.OSSandboxEnabled()
	return &config.Config{
		RsyncPath:     cfg.Rsync(),
		LogFile:       cfg.AuditLog(),
		Device:        cfg.BlockDevice(),
		MappedName:    cfg.Mapped(),
		MountPoint:    cfg.Mount(),
		KeepSnapshots: cfg.Keep(),
		LockDir:       lockDir,
		UpdateDir:     cfg.Update(),
		RequireMount:  &requireMount,
		OSSandbox:     &osSandbox,
	}, nil
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
