package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"filevault/internal/api"
	"filevault/internal/format"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeFileList(files []api.FileResponse) error {
	if len(files) == 0 {
		return writePlain("no files\n")
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tSHA256\tUPDATED")
	for _, file := range files {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			file.ID,
			displayName(file),
			format.Bytes(file.SizeBytes),
			shortDigest(file.SHA256),
			format.Ago(file.UpdatedAt),
		)
	}
	return tw.Flush()
}

func writeFileDetail(file api.FileResponse) error {
	lines := []string{
		fmt.Sprintf("id: %d", file.ID),
		fmt.Sprintf("name: %s", displayName(file)),
		fmt.Sprintf("size: %s (%d bytes)", format.Bytes(file.SizeBytes), file.SizeBytes),
		fmt.Sprintf("sha256: %s", file.SHA256),
		fmt.Sprintf("created_at: %s", formatTime(file.CreatedAt)),
		fmt.Sprintf("updated_at: %s", formatTime(file.UpdatedAt)),
	}
	if file.MediaType != "" {
		lines = append(lines, fmt.Sprintf("media_type: %s", file.MediaType))
	}
	if file.Deduplicated {
		lines = append(lines, "deduplicated: true")
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

// displayName joins the folder path and filename.
func displayName(file api.FileResponse) string {
	if file.Path == "" {
		return file.Filename
	}
	return file.Path + "/" + file.Filename
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
