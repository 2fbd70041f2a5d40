package command

import (
	"fmt"
	"time"

	c "wslogin/cmd/cli/command/client"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Send a login request",
	Long:  `Connects to the server, sends one LoginRequest for the given username and prints the response.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		client, err := c.Dial(serverURL, timeout)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Login(username)
		if err != nil {
			return err
		}

		if resp.Success {
			fmt.Fprintf(cmd.OutOrStdout(), "login succeeded for %q\n", username)
			return nil
		}
		return fmt.Errorf("login rejected for %q", username)
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringP("username", "u", "", "username to log in with (required)")
	loginCmd.Flags().Duration("timeout", 5*time.Second, "how long to wait for the handshake and the response")
	loginCmd.MarkFlagRequired("username")
}
