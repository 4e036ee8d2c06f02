package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"filevault/internal/config"
	"filevault/internal/store"
)

func TestUserAddAndDisableUseLocalDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "filevault.db")
	jsonOutput := false

	add := newUserAddCmd(&cfg, &jsonOutput)
	add.SetArgs([]string{"Alice", "--password-stdin"})
	add.SetIn(strings.NewReader("password-123\n"))
	if err := add.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("user add: %v", err)
	}

	disable := newUserSetDisabledCmd(&cfg, &jsonOutput, "disable", "", true)
	disable.SetArgs([]string{"alice"})
	if err := disable.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("user disable: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	user, err := st.GetUserByUsername(context.Background(), "alice")
	if err != nil || user == nil {
		t.Fatalf("expected stored user, got %#v err=%v", user, err)
	}
	if !user.Disabled {
		t.Fatal("expected user to be disabled")
	}
}

func TestUserAddRequiresPasswordStdin(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "filevault.db")
	jsonOutput := false

	cmd := newUserAddCmd(&cfg, &jsonOutput)
	cmd.SetArgs([]string{"alice"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error without --password-stdin")
	}
}

func TestUserEnableUnknownUser(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "filevault.db")
	jsonOutput := false

	cmd := newUserSetDisabledCmd(&cfg, &jsonOutput, "enable", "", false)
	cmd.SetArgs([]string{"nobody"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestReadPassword(t *testing.T) {
	got, err := readPassword(strings.NewReader("secret-pass\r\n"))
	if err != nil || got != "secret-pass" {
		t.Fatalf("readPassword() = %q, %v", got, err)
	}
	if _, err := readPassword(strings.NewReader("\n")); err == nil {
		t.Fatal("expected empty password error")
	}
}
