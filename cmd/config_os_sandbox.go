package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gartnera/restricted-backup/os_sandbox"
)

var configOSSandboxCmd = &cobra.Command{
	Use:   "os-sandbox",
	Short: "Manage running rsync inside bubblewrap",
}

var configOSSandboxShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current OS sandbox configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OS Sandbox: %v (bwrap available: %v)\n", cfg.OSSandboxEnabled(), os_sandbox.Available())
		return nil
	},
}

var configOSSandboxEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Run rsync inside bubblewrap",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !os_sandbox.Available() {
			return fmt.Errorf("%s not found in PATH", os_sandbox.Binary)
		}
		return setOSSandbox(cmd, true)
	},
}

var configOSSandboxDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Run rsync directly",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setOSSandbox(cmd, false)
	},
}

func setOSSandbox(cmd *cobra.Command, enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.OSSandbox = &enabled
	if err := saveConfig(cfg); err != nil {
		return err
	}
	if enabled {
		fmt.Fprintln(cmd.OutOrStdout(), "OS sandbox enabled")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "OS sandbox disabled")
	}
	return nil
}

func init() {
	configCmd.AddCommand(configOSSandboxCmd)
	configOSSandboxCmd.AddCommand(configOSSandboxShowCmd)
	configOSSandboxCmd.AddCommand(configOSSandboxEnableCmd)
	configOSSandboxCmd.AddCommand(configOSSandboxDisableCmd)
}
