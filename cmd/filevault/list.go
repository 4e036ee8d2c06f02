package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
)

func newListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		folder string
		sort   string
		desc   bool
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:     "ls [folder]",
		Aliases: []string{"list"},
		Short:   "List your files",
		Args:    requireRangeArgs(0, 1, "at most one folder is allowed"),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if len(args) == 1 {
				query.Set("path", args[0])
			} else if cmd.Flags().Changed("path") {
				query.Set("path", folder)
			}
			if sort != "" {
				query.Set("sort", sort)
			}
			if desc {
				query.Set("order", "desc")
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			return withClient(cfg, func(client *api.Client) error {
				files, err := client.ListFiles(cmd.Context(), query)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(files)
				}
				return writeFileList(files)
			})
		},
	}

	cmd.Flags().StringVar(&folder, "path", "", "only list files in this folder (\"\" for the root)")
	cmd.Flags().StringVar(&sort, "sort", "", "sort by created, name, or size")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of files")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many files")
	return cmd
}
