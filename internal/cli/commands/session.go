package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runLogout(ctx context.Context, opts *Options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	storage, err := newStorage(cfg)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, storage)
	if err != nil {
		return err
	}
	defer client.Close()

	store := newStore(cfg, client)
	defer store.Close()

	if state := store.Open(ctx); !state.Authenticated() {
		fmt.Fprintln(out, "Not signed in")
		return nil
	}

	store.SignOut(ctx)
	fmt.Fprintln(out, "✓ Signed out")
	return nil
}

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(opts *Options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), opts, asJSON, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the user as JSON")

	return cmd
}

func runWhoami(ctx context.Context, opts *Options, asJSON bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	storage, err := newStorage(cfg)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, storage)
	if err != nil {
		return err
	}
	defer client.Close()

	store := newStore(cfg, client)
	defer store.Close()

	state := store.Open(ctx)
	if !state.Authenticated() {
		fmt.Fprintln(out, "Not signed in")
		return nil
	}

	if asJSON {
		fmt.Fprintln(out, print.MaybePrettyJSON(whoamiPayload(state)))
		return nil
	}

	fmt.Fprintf(out, "User:    %s\n", state.User.Email)
	fmt.Fprintf(out, "Role:    %s\n", state.Role)
	if state.User.Metadata.FullName != "" {
		fmt.Fprintf(out, "Name:    %s\n", state.User.Metadata.FullName)
	}
	if state.Session != nil && !state.Session.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "Expires: %s\n", state.Session.ExpiresAt.Local().Format(time.RFC3339))
	}
	return nil
}

func whoamiPayload(state authguard.AuthState) map[string]any {
	payload := map[string]any{
		"id":    state.User.ID,
		"email": state.User.Email,
		"role":  state.Role,
	}
	if state.User.Metadata.FullName != "" {
		payload["full_name"] = state.User.Metadata.FullName
	}
	if state.Session != nil && !state.Session.ExpiresAt.IsZero() {
		payload["expires_at"] = state.Session.ExpiresAt
	}
	return payload
}
