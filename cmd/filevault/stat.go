package main

import (
	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
)

func newStatCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "stat <id>",
		Aliases: []string{"show"},
		Short:   "Show metadata for one file",
		Args:    requireExactlyArgs(1, "file id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFileID(args[0])
			if err != nil {
				return err
			}
			return withClient(cfg, func(client *api.Client) error {
				file, err := client.GetFile(cmd.Context(), id)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(file)
				}
				return writeFileDetail(file)
			})
		},
	}
}
