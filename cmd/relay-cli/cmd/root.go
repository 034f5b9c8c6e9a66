package cmd

import (
	"os"
	"time"

	"github.com/nfrund/roomrelay/cmd/relay-cli/internal/client"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "relay-cli",
	Short: "Room relay operator CLI",
	Long: `relay-cli inspects a running room relay over its HTTP API.

Available commands:
  status           Show active rooms, online users and live connections
  history          Show the recent messages of a chat
  list-services    List the services published in the relay's registry
  version          Print the CLI version

Use "relay-cli [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	defaultAddr := os.Getenv("RELAY_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", defaultAddr, "base URL of the relay (env RELAY_ADDR)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
}

func newClient() *client.Client {
	return client.New(serverAddr, timeout)
}
