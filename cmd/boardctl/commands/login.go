package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print an access token",
	Long: `Log in with email and password and print the access token.

Examples:
  export BOARD_TOKEN=$(boardctl login --email me@example.com --password secret)`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{"email": loginEmail, "password": loginPassword})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(serverURL, "/")+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return fail("login failed", err.Error())
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fail("login failed", fmt.Sprintf("unexpected response (%s)", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return fail("login failed", out.Error)
	}

	fmt.Fprintln(cmd.OutOrStdout(), out.AccessToken)
	return nil
}
