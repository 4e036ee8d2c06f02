package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
)

func newGetCmd(cfg *config.Config) *cobra.Command {
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Download a file",
		Args:  requireExactlyArgs(1, "file id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFileID(args[0])
			if err != nil {
				return err
			}

			return withClient(cfg, func(client *api.Client) error {
				if output == "-" {
					_, err := client.Download(cmd.Context(), id, os.Stdout)
					return err
				}
				dest := output
				if dest == "" {
					file, err := client.GetFile(cmd.Context(), id)
					if err != nil {
						return err
					}
					if dest, err = localFilename(file.Filename); err != nil {
						return err
					}
				}
				if !force {
					if err := refuseOverwrite(dest); err != nil {
						return err
					}
				}
				return downloadTo(cmd, client, id, dest)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "out", "O", "", "destination path, or - for stdout (default: stored filename)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing destination")
	return cmd
}

// localFilename checks a server-supplied filename before it is used as a
// path in the current directory.
func localFilename(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name || filepath.IsAbs(name) {
		return "", fmt.Errorf("refusing to write to server-supplied filename %q; pass --out", name)
	}
	return name, nil
}

func refuseOverwrite(dest string) error {
	_, err := os.Lstat(dest)
	if err == nil {
		return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// downloadTo writes into a temp file beside dest and renames it into place
// once the download completes.
func downloadTo(cmd *cobra.Command, client *api.Client, id int64, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".filevault-get-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := client.Download(cmd.Context(), id, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", n, dest)
	return err
}
