package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	internalauth "filevault/internal/auth"
	"filevault/internal/config"
	"filevault/internal/store"
)

// User commands open the database directly so operators can manage
// accounts without a running server.
func newUserCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts directly in the local database",
	}
	cmd.AddCommand(newUserAddCmd(cfg, jsonOutput))
	cmd.AddCommand(newUserListCmd(cfg, jsonOutput))
	cmd.AddCommand(newUserSetDisabledCmd(cfg, jsonOutput, "disable", "Disable one account and its sessions", true))
	cmd.AddCommand(newUserSetDisabledCmd(cfg, jsonOutput, "enable", "Enable one account", false))
	return cmd
}

func newUserAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create one account",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !passwordStdin {
				return fmt.Errorf("--password-stdin is required")
			}
			username, err := internalauth.NormalizeUsername(args[0])
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := internalauth.HashPassword(password)
			if err != nil {
				return err
			}

			return withStore(cfg, func(st *store.Store) error {
				created, err := st.CreateUser(cmd.Context(), username, hash, time.Now().UTC())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(created)
				}
				return writePlain("created user %s (%d)\n", created.Username, created.ID)
			})
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read password from stdin")
	return cmd
}

func newUserListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfg, func(st *store.Store) error {
				users, err := st.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"count": len(users), "users": users})
				}
				if len(users) == 0 {
					return writePlain("no users\n")
				}
				if err := writePlain("ID\tUSERNAME\tSTATUS\n"); err != nil {
					return err
				}
				for _, user := range users {
					status := "enabled"
					if user.Disabled {
						status = "disabled"
					}
					if err := writePlain("%d\t%s\t%s\n", user.ID, user.Username, status); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newUserSetDisabledCmd(cfg *config.Config, jsonOutput *bool, name, short string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <username>",
		Short: short,
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := internalauth.NormalizeUsername(args[0])
			if err != nil {
				return err
			}

			return withStore(cfg, func(st *store.Store) error {
				updated, err := st.SetUserDisabled(cmd.Context(), username, disabled, time.Now().UTC())
				if err != nil {
					return err
				}
				if updated == nil {
					return fmt.Errorf("user %q not found", username)
				}
				if *jsonOutput {
					return writeJSON(updated)
				}
				action := "enabled"
				if disabled {
					action = "disabled"
				}
				return writePlain("%s user %s\n", action, updated.Username)
			})
		},
	}
}

func withStore(cfg *config.Config, fn func(*store.Store) error) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func readPassword(r io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "", err
	}
	password := strings.TrimRight(string(raw), "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is required on stdin")
	}
	return password, nil
}
