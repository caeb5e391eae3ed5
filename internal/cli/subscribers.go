package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "Manage notification subscribers",
}

var subscribersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriber addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListSubscribers(cmd.Context())
	},
}

var subscribersAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Add a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddSubscriber(cmd.Context(), args[0])
	},
}

var subscribersRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Remove a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveSubscriber(cmd.Context(), args[0])
	},
}

var historyLimit int

var subscribersHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent notification log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ListNotifications(cmd.Context(), historyLimit)
	},
}

func init() {
	subscribersHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to display")

	subscribersCmd.AddCommand(subscribersListCmd)
	subscribersCmd.AddCommand(subscribersAddCmd)
	subscribersCmd.AddCommand(subscribersRemoveCmd)
	subscribersCmd.AddCommand(subscribersHistoryCmd)
}
