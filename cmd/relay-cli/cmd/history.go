package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/spf13/cobra"
)

var (
	historyChat  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recent messages of a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Messages(cmd.Context(), historyChat, historyLimit)
		if err != nil {
			return err
		}

		if len(res.Messages) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No messages in chat %s.\n", res.ChatID)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tUSER\tTYPE\tCONTENT\tPENDING")
		for _, m := range res.Messages {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%t\n",
				m.ID, m.CreatedAt.Format(time.RFC3339), m.UserID, m.Type, summary(m), m.Pending)
		}
		return w.Flush()
	},
}

func summary(m domain.Message) string {
	switch {
	case m.Content != nil:
		return *m.Content
	case m.MediaURL != nil:
		return *m.MediaURL
	default:
		return ""
	}
}

func init() {
	historyCmd.Flags().StringVar(&historyChat, "chat", "", "chat id (required)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of messages")
	_ = historyCmd.MarkFlagRequired("chat")
	rootCmd.AddCommand(historyCmd)
}
