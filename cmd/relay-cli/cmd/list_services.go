package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/nfrund/roomrelay/cmd/relay-cli/internal/keyscan"
	"github.com/spf13/cobra"
)

var scanDir string

// listServicesCmd represents the list-services command
var listServicesCmd = &cobra.Command{
	Use:   "list-services",
	Short: "Lists all services discoverable via the service registry",
	Long: `Scans the source tree for registry.Key definitions to find every service
that modules can resolve at runtime.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := keyscan.Load(scanDir)
		if err != nil {
			return fmt.Errorf("failed to find registry keys: %w", err)
		}

		if len(services) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No services found in the registry.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "KEY\tTYPE\tPACKAGE")
		fmt.Fprintln(w, "---\t----\t-------")
		for _, s := range services {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Type, s.Package)
		}
		return w.Flush()
	},
}

func init() {
	listServicesCmd.Flags().StringVar(&scanDir, "dir", ".", "module root to scan")
	rootCmd.AddCommand(listServicesCmd)
}
