package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"market-observer/internal/alerts"
	"market-observer/internal/models"
	"market-observer/pkg/utils"
)

func newAlertCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage price alerts",
		Long:  "Create, list and delete price alerts evaluated against the live feed.",
	}

	cmd.AddCommand(newAlertListCmd(app))
	cmd.AddCommand(newAlertCreateCmd(app))
	cmd.AddCommand(newAlertShowCmd(app))
	cmd.AddCommand(newAlertDeleteCmd(app))

	return cmd
}

func newAlertListCmd(app *App) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Engine == nil {
				return fmt.Errorf("store unavailable")
			}

			var (
				list []models.Alert
				err  error
			)
			if status != "" {
				list, err = app.Engine.ListByStatus(cmd.Context(), models.AlertStatus(status))
			} else {
				list, err = app.Engine.List(cmd.Context())
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Dim("No alerts")
				return nil
			}

			table := NewTable(output, "ID", "PAIR", "CONDITION", "TARGET", "STATUS", "CHANNELS")
			for _, a := range list {
				channels := make([]string, 0, len(a.Channels))
				for _, ch := range a.Channels {
					channels = append(channels, string(ch))
				}
				table.AddRow(
					shortID(a.ID),
					a.Pair,
					string(a.Condition),
					utils.FormatPrice(a.TargetPrice),
					output.StatusTag(string(a.Status)),
					strings.Join(channels, ","),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, triggered, disabled)")
	return cmd
}

func newAlertCreateCmd(app *App) *cobra.Command {
	var (
		pair      string
		target    float64
		condition string
		channels  []string
		email     string
		phone     string
		message   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a price alert",
		Example: `  observer alerts create --pair GOLD --target 1950 --condition above --channel email --email me@example.com
  observer alerts create --pair BTCUSD --target 50000 --condition equal --channel sms --phone +15550100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Engine == nil {
				return fmt.Errorf("store unavailable")
			}

			chs := make([]models.AlertChannel, 0, len(channels))
			for _, ch := range channels {
				chs = append(chs, models.AlertChannel(ch))
			}

			alert, err := app.Engine.Create(cmd.Context(), alerts.CreateRequest{
				Pair:          strings.ToUpper(pair),
				TargetPrice:   target,
				Condition:     models.AlertCondition(condition),
				Channels:      chs,
				Email:         email,
				Phone:         phone,
				CustomMessage: message,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alert)
			}
			output.Success("✓ Alert created: %s", alert.ID)
			output.Printf("  %s %s %s (tolerance %s)\n",
				alert.Pair, alert.Condition, utils.FormatPrice(alert.TargetPrice),
				utils.FormatPrice(alerts.Tolerance(alert.Pair)))
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "instrument pair, e.g. GOLD, BTCUSD (required)")
	cmd.Flags().Float64Var(&target, "target", 0, "target price (required)")
	cmd.Flags().StringVar(&condition, "condition", "above", "trigger condition: above, below or equal")
	cmd.Flags().StringSliceVar(&channels, "channel", []string{"email"}, "notification channels: email, sms")
	cmd.Flags().StringVar(&email, "email", "", "email address for the email channel")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number for the sms channel")
	cmd.Flags().StringVar(&message, "message", "", "custom message appended to the notification")
	cmd.MarkFlagRequired("pair")
	cmd.MarkFlagRequired("target")

	return cmd
}

func newAlertShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Engine == nil {
				return fmt.Errorf("store unavailable")
			}

			alert, err := app.Engine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(alert)
			}

			output.Bold("Alert %s", alert.ID)
			output.Printf("  Pair:      %s\n", alert.Pair)
			output.Printf("  Condition: price %s %s\n", alert.Condition, utils.FormatPrice(alert.TargetPrice))
			output.Printf("  Status:    %s\n", output.StatusTag(string(alert.Status)))
			output.Printf("  Created:   %s\n", alert.CreatedAt.Format("2006-01-02 15:04:05"))
			if alert.TriggeredAt != nil {
				output.Printf("  Triggered: %s\n", alert.TriggeredAt.Format("2006-01-02 15:04:05"))
			}
			if alert.LastCheckedPrice != nil {
				output.Printf("  Last Seen: %s\n", utils.FormatPrice(*alert.LastCheckedPrice))
			}
			if alert.CustomMessage != "" {
				output.Printf("  Message:   %s\n", alert.CustomMessage)
			}
			return nil
		},
	}
}

func newAlertDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Engine == nil {
				return fmt.Errorf("store unavailable")
			}

			if err := app.Engine.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"deleted": true})
			}
			output.Success("✓ Alert deleted")
			return nil
		},
	}
}

// shortID truncates a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
