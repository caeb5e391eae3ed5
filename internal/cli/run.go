package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the screening service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var refreshForce bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one freshness check and notification attempt",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), refreshForce)
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Attempt the notification for the current epoch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Notify(cmd.Context())
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Rebuild the snapshot even if the cached one is current")
}
