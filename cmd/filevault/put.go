package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
	"filevault/internal/format"
)

func newPutCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		name      string
		folder    string
		mediaType string
	)

	cmd := &cobra.Command{
		Use:   "put <file|->",
		Short: "Upload a file; identical content is stored once",
		Args:  requireExactlyArgs(1, "file path (or - for stdin) is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, req, err := openUpload(args[0], name)
			if err != nil {
				return err
			}
			defer content.Close()
			req.Path = folder
			req.MediaType = mediaType

			return withClient(cfg, func(client *api.Client) error {
				file, err := client.Upload(cmd.Context(), req, content)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(file)
				}
				note := ""
				if file.Deduplicated {
					note = " (deduplicated)"
				}
				return writePlain("stored %s as %d, %s%s\n", displayName(file), file.ID, format.Bytes(file.SizeBytes), note)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "filename to store (default: base name of the source)")
	cmd.Flags().StringVar(&folder, "path", "", "folder to store the file in")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "media type (default: detected)")
	return cmd
}

// openUpload opens source, or stdin for "-", and sizes the request when the
// length is known up front.
func openUpload(source, name string) (io.ReadCloser, api.UploadRequest, error) {
	req := api.UploadRequest{Filename: name, Size: -1}
	if source == "-" {
		if req.Filename == "" {
			return nil, req, fmt.Errorf("--name is required when reading stdin")
		}
		return io.NopCloser(os.Stdin), req, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, req, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, req, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, req, fmt.Errorf("%s is a directory", source)
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(source)
	}
	req.Size = info.Size()
	return f, req, nil
}
