package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-observer/internal/models"
	"market-observer/pkg/utils"
)

func newCandleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candles",
		Short: "Query and regenerate OHLC candles",
	}

	cmd.AddCommand(newCandleListCmd(app))
	cmd.AddCommand(newCandleLatestCmd(app))
	cmd.AddCommand(newCandleStatsCmd(app))
	cmd.AddCommand(newCandleRegenerateCmd(app))

	return cmd
}

func newCandleListCmd(app *App) *cobra.Command {
	var (
		pair  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list <timeframe>",
		Short: "List candles for a timeframe",
		Long:  "Timeframes: 1m, 5m, 15m, 30m, 1h, 4h, 1d, 3d.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Candles == nil {
				return fmt.Errorf("store unavailable")
			}

			list, err := app.Candles.List(cmd.Context(), models.Timeframe(args[0]), pair, limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Dim("No candles")
				return nil
			}

			table := NewTable(output, "TIME", "PAIR", "OPEN", "HIGH", "LOW", "CLOSE", "VOL")
			for _, c := range list {
				closeCell := utils.FormatPrice(c.Close)
				closeCell = output.ColoredString(output.ChangeColor(c.Close-c.Open), closeCell)
				table.AddRow(
					c.BucketStart.Format("2006-01-02 15:04"),
					c.Pair,
					utils.FormatPrice(c.Open),
					utils.FormatPrice(c.High),
					utils.FormatPrice(c.Low),
					closeCell,
					fmt.Sprintf("%d", c.Volume),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "filter by instrument pair")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of candles")
	return cmd
}

func newCandleLatestCmd(app *App) *cobra.Command {
	var pair string

	cmd := &cobra.Command{
		Use:   "latest <timeframe>",
		Short: "Show the most recent candle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Candles == nil {
				return fmt.Errorf("store unavailable")
			}

			candle, err := app.Candles.Latest(cmd.Context(), models.Timeframe(args[0]), pair)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(candle)
			}

			output.Bold("%s %s", candle.Pair, candle.Timeframe)
			output.Printf("  Bucket: %s\n", candle.BucketStart.Format("2006-01-02 15:04:05"))
			output.Printf("  O: %s  H: %s  L: %s  C: %s  V: %d\n",
				utils.FormatPrice(candle.Open), utils.FormatPrice(candle.High),
				utils.FormatPrice(candle.Low), utils.FormatPrice(candle.Close),
				candle.Volume)
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "filter by instrument pair")
	return cmd
}

func newCandleStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show candle counts per timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Candles == nil {
				return fmt.Errorf("store unavailable")
			}

			stats, err := app.Candles.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(stats)
			}

			table := NewTable(output, "TIMEFRAME", "CANDLES")
			for _, tf := range models.Timeframes {
				table.AddRow(string(tf), fmt.Sprintf("%d", stats[tf]))
			}
			table.Render()
			return nil
		},
	}
}

func newCandleRegenerateCmd(app *App) *cobra.Command {
	var (
		pair      string
		timeframe string
	)

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Rebuild candles from snapshot history",
		Long: `Re-aggregates candles from the recorded snapshot history. With
--timeframe only that timeframe is rebuilt, otherwise all of them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Candles == nil {
				return fmt.Errorf("store unavailable")
			}

			if timeframe != "" {
				n, err := app.Candles.Regenerate(cmd.Context(), models.Timeframe(timeframe), pair)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]int{timeframe: n})
				}
				output.Success("✓ Rebuilt %d %s candles", n, timeframe)
				return nil
			}

			counts, err := app.Candles.RegenerateAll(cmd.Context(), pair)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(counts)
			}
			total := 0
			for _, tf := range models.Timeframes {
				output.Printf("  %-4s %d\n", tf, counts[tf])
				total += counts[tf]
			}
			output.Success("✓ Rebuilt %d candles", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "restrict regeneration to one pair")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "restrict regeneration to one timeframe")
	return cmd
}
