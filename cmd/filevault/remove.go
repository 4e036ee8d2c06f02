package main

import (
	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
)

func newRemoveCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete files; bytes are reclaimed when no other file shares them",
		Args:    requireRangeArgs(1, 1000, "at least one file id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseFileID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			return withClient(cfg, func(client *api.Client) error {
				results := make([]api.FileDeleteResponse, 0, len(ids))
				for _, id := range ids {
					resp, err := client.DeleteFile(cmd.Context(), id)
					if err != nil {
						return err
					}
					results = append(results, resp)
					if *jsonOutput {
						continue
					}
					note := ""
					if resp.Reclaimed {
						note = " (bytes reclaimed)"
					}
					if err := writePlain("deleted %d%s\n", resp.ID, note); err != nil {
						return err
					}
				}
				if *jsonOutput {
					return writeJSON(results)
				}
				return nil
			})
		},
	}
}
