package main

import (
	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
)

func newRenameCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <new-name>",
		Short: "Rename a file without touching its content",
		Args:  requireExactlyArgs(2, "file id and new name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[1]
			return updateFile(cmd, cfg, *jsonOutput, args[0], api.FileUpdateRequest{Filename: &name})
		},
	}
}

func newMoveCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <id> <folder>",
		Short: "Move a file to another folder (\"/\" for the root)",
		Args:  requireExactlyArgs(2, "file id and folder are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := args[1]
			return updateFile(cmd, cfg, *jsonOutput, args[0], api.FileUpdateRequest{Path: &folder})
		},
	}
}

func updateFile(cmd *cobra.Command, cfg *config.Config, jsonOutput bool, rawID string, req api.FileUpdateRequest) error {
	id, err := parseFileID(rawID)
	if err != nil {
		return err
	}
	return withClient(cfg, func(client *api.Client) error {
		file, err := client.UpdateFile(cmd.Context(), id, req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(file)
		}
		return writePlain("%d is now %s\n", file.ID, displayName(file))
	})
}
