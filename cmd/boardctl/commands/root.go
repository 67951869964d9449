package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	accessToken string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "boardctl",
	Short: "boardctl - command line client for realtime boards",
	Long: `boardctl talks to a realtime board server.

It joins a board as a regular participant, so every change it makes is seen
live by everyone else on the board, and it can follow a board as it changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersion sets the version shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("BOARD_SERVER", "http://localhost:8080"), "Board server base URL")
	rootCmd.PersistentFlags().StringVarP(&accessToken, "token", "t", os.Getenv("BOARD_TOKEN"), "Access token (see 'boardctl login')")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// wsURL turns the server base URL into the board websocket endpoint.
func wsURL(base, boardID string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/boards/" + boardID
}
