package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"filevault/internal/auth"
	"filevault/internal/config"
)

func newConfigCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set configuration",
	}

	cmd.AddCommand(newConfigGetCmd(cfg))
	cmd.AddCommand(newConfigListCmd(cfg))
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGenSecretCmd())
	return cmd
}

func newConfigGetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a config value",
		Args:  requireExactlyArgs(1, "key is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !config.IsAllowedKey(key) {
				return fmt.Errorf("unknown key: %s (allowed: %v)", key, config.AllowedKeys())
			}
			value, err := cfg.Get(key)
			if err != nil {
				return err
			}
			return writePlain("%s\n", value)
		},
	}
}

func newConfigListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List effective config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range config.AllowedKeys() {
				value, err := cfg.Get(key)
				if err != nil {
					return err
				}
				if config.IsSecretKey(key) && value != "" {
					value = "********"
				}
				if err := writePlain("%s = %s\n", key, value); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Args:  requireExactlyArgs(2, "key and value are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(global)
			if err != nil {
				return err
			}
			return config.SetKey(path, args[0], args[1])
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write to global config (~/.filevault.toml)")
	return cmd
}

func newConfigGenSecretCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate and store a random auth.token_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := auth.GenerateSecret()
			if err != nil {
				return err
			}
			path, err := configPath(global)
			if err != nil {
				return err
			}
			if err := config.SetKey(path, "auth.token_secret", secret); err != nil {
				return err
			}
			return writePlain("wrote auth.token_secret to %s\n", path)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write to global config (~/.filevault.toml)")
	return cmd
}

func configPath(global bool) (string, error) {
	if global {
		return config.GlobalPath()
	}
	return config.ProjectPath()
}
