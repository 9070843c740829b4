package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewLoginCmd creates the login command
func NewLoginCmd(opts *Options) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session in the configured storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), opts, email, password, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set AUTHGUARD_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set AUTHGUARD_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(ctx context.Context, opts *Options, email, password string, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("AUTHGUARD_EMAIL")
	}
	if password == "" {
		password = os.Getenv("AUTHGUARD_PASSWORD")
	}

	if email == "" {
		return fmt.Errorf("email is required (use --email flag or AUTHGUARD_EMAIL env var)")
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

	if password == "" {
		if password, err = readPassword(in, out, "Password: "); err != nil {
			return err
		}
	}

	store := newStore(cfg, client)
	defer store.Close()
	store.Open(ctx)

	fmt.Fprintf(out, "Signing in to %s...\n", cfg.GoTrue.URL)

	if _, err := store.SignIn(ctx, email, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	state := store.State()
	fmt.Fprintln(out, "✓ Login successful!")
	fmt.Fprintf(out, "  User: %s\n", state.User.Email)
	fmt.Fprintf(out, "  Role: %s\n", state.Role)

	return nil
}
