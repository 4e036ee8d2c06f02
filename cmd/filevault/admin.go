package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
	"filevault/internal/format"
)

func newAdminCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}

	cmd.AddCommand(newAdminReconcileCmd(cfg, jsonOutput))
	return cmd
}

func newAdminReconcileCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		dryRun    bool
		yes       bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair blob reference counts and reclaim unreferenced bytes",
		Long: "Compares every blob's reference count with the file records that point at it,\n" +
			"repairs mismatches, then deletes unreferenced blobs, orphan files and stale temp files.\n" +
			"Runs as a dry run unless --yes is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize < 0 {
				return fmt.Errorf("--batch-size must be >= 0")
			}
			if !yes {
				dryRun = true
			}

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.AdminReconcile(cmd.Context(), api.ReconcileRequest{DryRun: dryRun, BatchSize: batchSize}, !dryRun)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}

				if resp.DryRun {
					return writePlain("dry run: repairs=%d reclaim_candidates=%d\n", resp.RepairedRows, resp.ReclaimCandidates)
				}
				return writePlain("repaired=%d reclaimed=%d (%s) orphans=%d temp=%d failed=%d\n",
					resp.RepairedRows, resp.ReclaimedBlobs, format.Bytes(resp.ReclaimedBytes),
					resp.OrphanFiles, resp.TempFiles, resp.Failed)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without modifying anything")
	cmd.Flags().BoolVar(&yes, "yes", false, "apply repairs and delete unreferenced blobs")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "blobs handled per batch (default: server gc.batch_size)")
	return cmd
}
