package main

import (
	"context"
	"errors"
	"net"

	"filevault/internal/api"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch {
		case api.IsUnauthorized(err):
			lines = append(lines, "hint: sign in with: filevault login <username> --password-stdin")
		case api.IsNotFound(err) && apiErr.Code != "":
			lines = append(lines, "hint: list your files with: filevault ls")
		}
		switch apiErr.Code {
		case "forbidden":
			lines = append(lines, "hint: the file belongs to another account; admin commands need FILEVAULT_ADMIN_TOKEN.")
		case "resource_exhausted":
			lines = append(lines, "hint: retry shortly or reduce concurrent uploads.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify FILEVAULT_API_URL points to a filevault server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase FILEVAULT_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a filevault server is running at FILEVAULT_API_URL.",
			"hint: start local server manually with: filevault srv",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
