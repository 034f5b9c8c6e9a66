package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active rooms, online users and live connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "ROOMS\t%d\n", status.Rooms)
		fmt.Fprintf(w, "USERS\t%d\n", status.Users)
		fmt.Fprintf(w, "CONNECTIONS\t%d\n", status.Connections)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
