package main

import (
	"context"
	"fmt"
	"net"
	"testing"

	"filevault/internal/api"
)

func TestFormatCLIError_NetworkGuidance(t *testing.T) {
	err := &net.DNSError{Err: "dial tcp: connection refused", Name: "127.0.0.1", IsTemporary: true}
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: ensure a filevault server is running at FILEVAULT_API_URL.") {
		t.Fatalf("expected connectivity guidance, got %v", lines)
	}
	if !containsLine(lines, "hint: start local server manually with: filevault srv") {
		t.Fatalf("expected manual-start guidance, got %v", lines)
	}
}

func TestFormatCLIError_APIGuidance(t *testing.T) {
	tests := []struct {
		name string
		err  *api.APIError
		hint string
	}{
		{"unknown service", &api.APIError{Status: 404, Message: "api error: 404 Not Found"}, "hint: verify FILEVAULT_API_URL points to a filevault server."},
		{"unauthorized", &api.APIError{Status: 401, Code: "unauthorized", Message: "unauthorized"}, "hint: sign in with: filevault login <username> --password-stdin"},
		{"not found", &api.APIError{Status: 404, Code: "not_found", Message: "file not found"}, "hint: list your files with: filevault ls"},
		{"forbidden", &api.APIError{Status: 403, Code: "forbidden", Message: "forbidden"}, "hint: the file belongs to another account; admin commands need FILEVAULT_ADMIN_TOKEN."},
		{"busy", &api.APIError{Status: 429, Code: "resource_exhausted", Message: "busy"}, "hint: retry shortly or reduce concurrent uploads."},
		{"internal", &api.APIError{Status: 500, Code: "internal", Message: "internal error"}, "hint: server returned an internal error; check server logs for details."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := formatCLIError(fmt.Errorf("wrapped: %w", tt.err))
			if !containsLine(lines, tt.hint) {
				t.Fatalf("expected %q, got %v", tt.hint, lines)
			}
		})
	}
}

func TestFormatCLIError_Timeout(t *testing.T) {
	lines := formatCLIError(context.DeadlineExceeded)
	if len(lines) != 2 {
		t.Fatalf("expected error plus timeout hint, got %v", lines)
	}
}

func TestFormatCLIError_Nil(t *testing.T) {
	if lines := formatCLIError(nil); lines != nil {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func containsLine(lines []string, expected string) bool {
	for _, line := range lines {
		if line == expected {
			return true
		}
	}
	return false
}
