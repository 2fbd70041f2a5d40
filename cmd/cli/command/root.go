package command

// root.go defines the root command for the wsloginCLI application.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string // Global flag for websocket server URL

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wsloginCLI",
	Short: "wsloginCLI - client for the websocket login server",
	Long: `wsloginCLI talks to the websocket login server. Every request is sent as a
binary frame holding a tagged JSON message, and the server answers with one
binary frame per request.

Use "wsloginCLI command --help" to see all available commands.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://localhost:30000", "websocket server URL")
}
