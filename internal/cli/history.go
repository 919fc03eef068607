package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded snapshot history",
	}

	cmd.AddCommand(newHistoryInfoCmd(app))
	cmd.AddCommand(newHistoryLatestCmd(app))
	cmd.AddCommand(newHistoryClearCmd(app))

	return cmd
}

func newHistoryInfoCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show snapshot count and date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable")
			}

			count, err := app.Store.CountSnapshots(cmd.Context())
			if err != nil {
				return err
			}

			if count == 0 {
				if output.IsJSON() {
					return output.JSON(map[string]int{"total_snapshots": 0})
				}
				output.Dim("No snapshots recorded")
				return nil
			}

			earliest, latest, err := app.Store.SnapshotDateRange(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"total_snapshots": count,
					"earliest":        earliest,
					"latest":          latest,
				})
			}
			output.Bold("Snapshot History")
			output.Printf("  Snapshots: %d\n", count)
			output.Printf("  Earliest:  %s\n", earliest.Format("2006-01-02 15:04:05"))
			output.Printf("  Latest:    %s\n", latest.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newHistoryLatestCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable")
			}

			snap, err := app.Store.GetLatestSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(snap)
			}

			output.Bold("%s", snap.Title)
			output.Dim("Captured %s", snap.Timestamp.Format("2006-01-02 15:04:05"))
			table := NewTable(output, "PAIR", "PRICE")
			for _, q := range snap.Pairs {
				table.AddRow(q.Pair, q.Price)
			}
			table.Render()
			if len(snap.Changes) > 0 {
				output.Println()
				output.Info("Changes: %v", snap.Changes)
			}
			return nil
		},
	}
}

func newHistoryClearCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable")
			}
			if !force {
				return fmt.Errorf("refusing to clear history without --force")
			}

			if err := app.Store.ClearSnapshots(cmd.Context()); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"cleared": true})
			}
			output.Success("✓ Snapshot history cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}
