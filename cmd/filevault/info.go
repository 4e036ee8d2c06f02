package main

import (
	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
	"filevault/internal/format"
)

func newInfoCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show store totals and deduplication policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.GetInfo(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}

				_ = writePlain("schema_version: %d\n", resp.SchemaVersion)
				_ = writePlain("users: %d\n", resp.Users)
				_ = writePlain("files: %d\n", resp.Files)
				_ = writePlain("blobs: %d (%d unreferenced)\n", resp.Blobs, resp.UnreferencedBlobs)
				_ = writePlain("logical_bytes: %s\n", format.Bytes(resp.LogicalBytes))
				_ = writePlain("stored_bytes: %s\n", format.Bytes(resp.StoredBytes))
				_ = writePlain("dedupe_ratio: %.2f\n", resp.DedupeRatio)
				_ = writePlain("dedupe_scope: %s\n", resp.DedupeScope)
				_ = writePlain("reclaim: %s\n", resp.Reclaim)
				return writePlain("compression: %s\n", resp.Compression)
			})
		},
	}
	return cmd
}
