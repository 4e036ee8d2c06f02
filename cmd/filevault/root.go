package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"filevault/internal/config"
	"filevault/internal/format"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		jsonOutput   bool
		outputFormat string
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:           "filevault",
		Short:         "Filevault is a content-addressed file store with deduplication",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			if outputFormat != "" {
				formatter, err := format.ForName(outputFormat)
				if err != nil {
					return err
				}
				outputFormatter = formatter
				jsonOutput = true
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "structured output format (json or yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newMigrateCmd(cfg, &jsonOutput),
		newConfigCmd(cfg),
		newUserCmd(cfg, &jsonOutput),
		newRegisterCmd(cfg, &jsonOutput),
		newLoginCmd(cfg, &jsonOutput),
		newLogoutCmd(cfg),
		newWhoamiCmd(cfg, &jsonOutput),
		newListCmd(cfg, &jsonOutput),
		newPutCmd(cfg, &jsonOutput),
		newGetCmd(cfg),
		newStatCmd(cfg, &jsonOutput),
		newRemoveCmd(cfg, &jsonOutput),
		newRenameCmd(cfg, &jsonOutput),
		newMoveCmd(cfg, &jsonOutput),
		newInfoCmd(cfg, &jsonOutput),
		newAdminCmd(cfg, &jsonOutput),
	)

	return cmd
}
