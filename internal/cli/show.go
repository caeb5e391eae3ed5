package cli

import (
	"github.com/spf13/cobra"

	"deviation-screener/internal/app"
)

var (
	showTable string
	showCSV   string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a summary table of the current snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Table:   showTable,
			CSVPath: showCSV,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showTable, "table", "all", "Table to display: all, watch or opportunities")
	showCmd.Flags().StringVar(&showCSV, "csv", "", "Also write the table to this CSV path")
}
