package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"filevault/internal/api"
	"filevault/internal/config"
	"filevault/internal/format"
)

func newRegisterCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account on the server",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordFromFlag(cmd, passwordStdin)
			if err != nil {
				return err
			}
			return withClient(cfg, func(client *api.Client) error {
				user, err := client.Register(cmd.Context(), api.AuthCredentials{Username: args[0], Password: password})
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(user)
				}
				return writePlain("registered %s (%d)\n", user.Username, user.ID)
			})
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read password from stdin")
	return cmd
}

func newLoginCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and save an access token",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordFromFlag(cmd, passwordStdin)
			if err != nil {
				return err
			}
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Login(cmd.Context(), api.AuthCredentials{Username: args[0], Password: password})
				if err != nil {
					return err
				}
				path, err := saveToken(resp.Token)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"user": resp.User, "expires_at": resp.ExpiresAt, "token_file": path})
				}
				return writePlain("logged in as %s; token saved to %s (expires %s)\n", resp.User.Username, path, formatTime(resp.ExpiresAt))
			})
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read password from stdin")
	return cmd
}

func newLogoutCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withClient(cfg, func(client *api.Client) error {
				return client.Logout(cmd.Context())
			})
			if err != nil {
				return err
			}
			if err := clearSavedToken(); err != nil {
				return err
			}
			return writePlain("logged out\n")
		},
	}
}

func newWhoamiCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account and its usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				me, err := client.Me(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(me)
				}
				return writePlain("%s (%d): %d files, %s\n", me.Username, me.ID, me.Files, format.Bytes(me.UsageBytes))
			})
		},
	}
}

func passwordFromFlag(cmd *cobra.Command, passwordStdin bool) (string, error) {
	if !passwordStdin {
		return "", fmt.Errorf("--password-stdin is required")
	}
	return readPassword(cmd.InOrStdin())
}
