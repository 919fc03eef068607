package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"market-observer/internal/replay"
)

// replayClient talks to the replay API of a running watch process.
type replayClient struct {
	baseURL string
	client  *http.Client
}

func newReplayClient(addr string) *replayClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		if strings.HasPrefix(base, ":") {
			base = "localhost" + base
		}
		base = "http://" + base
	}
	return &replayClient{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *replayClient) call(method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("replay API unreachable (is 'observer watch' running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("replay API returned %s", resp.Status)
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func newReplayCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Control playback of recorded history",
		Long:  "Drive the replay session of a running watch process over its local API.",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", ":8080", "Address of the running watch API")

	cmd.AddCommand(newReplayStartCmd(&addr))
	cmd.AddCommand(newReplayControlCmd(&addr, "pause", "Pause playback"))
	cmd.AddCommand(newReplayControlCmd(&addr, "resume", "Resume paused playback"))
	cmd.AddCommand(newReplayControlCmd(&addr, "stop", "Stop playback and rewind"))
	cmd.AddCommand(newReplaySpeedCmd(&addr))
	cmd.AddCommand(newReplaySeekCmd(&addr))
	cmd.AddCommand(newReplayStatusCmd(&addr))
	cmd.AddCommand(newReplayInfoCmd(&addr))

	return cmd
}

func newReplayStartCmd(addr *string) *cobra.Command {
	var (
		startIndex int
		speed      float64
		start      string
		end        string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start playback of recorded snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			body := map[string]interface{}{
				"start_index": startIndex,
				"speed":       speed,
			}
			if start != "" {
				body["start"] = start
			}
			if end != "" {
				body["end"] = end
			}

			var status replay.Status
			if err := newReplayClient(*addr).call(http.MethodPost, "/api/replay/start", body, &status); err != nil {
				return err
			}
			return printReplayStatus(output, status)
		},
	}

	cmd.Flags().IntVar(&startIndex, "index", 0, "Snapshot index to start from")
	cmd.Flags().Float64Var(&speed, "speed", 1.0, "Playback speed multiplier")
	cmd.Flags().StringVar(&start, "start", "", "Earliest snapshot timestamp (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Latest snapshot timestamp (RFC3339)")

	return cmd
}

func newReplayControlCmd(addr *string, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			var status replay.Status
			if err := newReplayClient(*addr).call(http.MethodPost, "/api/replay/"+name, nil, &status); err != nil {
				return err
			}
			return printReplayStatus(output, status)
		},
	}
}

func newReplaySpeedCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "speed <multiplier>",
		Short: "Change playback speed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			speed, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid speed %q", args[0])
			}

			var status replay.Status
			if err := newReplayClient(*addr).call(http.MethodPost, "/api/replay/speed",
				map[string]float64{"speed": speed}, &status); err != nil {
				return err
			}
			return printReplayStatus(output, status)
		},
	}
}

func newReplaySeekCmd(addr *string) *cobra.Command {
	var (
		index   int
		percent float64
	)

	cmd := &cobra.Command{
		Use:   "seek",
		Short: "Seek to a snapshot by index or percent",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			body := map[string]interface{}{}
			switch {
			case cmd.Flags().Changed("index"):
				body["index"] = index
			case cmd.Flags().Changed("percent"):
				body["percent"] = percent
			default:
				return fmt.Errorf("either --index or --percent is required")
			}

			var status replay.Status
			if err := newReplayClient(*addr).call(http.MethodPost, "/api/replay/seek", body, &status); err != nil {
				return err
			}
			return printReplayStatus(output, status)
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "Snapshot index to seek to")
	cmd.Flags().Float64Var(&percent, "percent", 0, "Position as a percentage of recorded history")

	return cmd
}

func newReplayStatusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show playback state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			var status replay.Status
			if err := newReplayClient(*addr).call(http.MethodGet, "/api/replay/status", nil, &status); err != nil {
				return err
			}
			return printReplayStatus(output, status)
		},
	}
}

func newReplayInfoCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show recorded history range",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			var info struct {
				TotalSnapshots int        `json:"total_snapshots"`
				Earliest       *time.Time `json:"earliest"`
				Latest         *time.Time `json:"latest"`
			}
			if err := newReplayClient(*addr).call(http.MethodGet, "/api/replay/info", nil, &info); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(info)
			}
			output.Printf("Snapshots: %d\n", info.TotalSnapshots)
			if info.Earliest != nil && info.Latest != nil {
				output.Printf("Range:     %s .. %s\n",
					info.Earliest.Format(time.RFC3339), info.Latest.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func printReplayStatus(output *Output, status replay.Status) error {
	if output.IsJSON() {
		return output.JSON(status)
	}
	output.Printf("State:    %s\n", status.State)
	output.Printf("Position: %d/%d (%.1f%%)\n",
		status.CurrentIndex, status.TotalSnapshots, status.ProgressPercent)
	output.Printf("Speed:    %.2fx\n", status.Speed)
	return nil
}
