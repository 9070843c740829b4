package cli

import (
	"fmt"
	"os"

	"github.com/goliatone/go-authguard/internal/cli/commands"
	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var opts = &commands.Options{}

var rootCmd = &cobra.Command{
	Use:   "authguard",
	Short: "authguard - role based access over a GoTrue identity provider",
	Long: `authguard serves a view table where every protected view is guarded by a
minimum role, backed by a GoTrue (Supabase Auth) project.

Use "serve" for the web application and "console" to walk the same views
from a terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the config file (default ./authguard.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "authguard version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewServeCmd(opts))
	rootCmd.AddCommand(commands.NewConsoleCmd(opts))
	rootCmd.AddCommand(commands.NewLoginCmd(opts))
	rootCmd.AddCommand(commands.NewLogoutCmd(opts))
	rootCmd.AddCommand(commands.NewWhoamiCmd(opts))
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
