package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Market Observer Configuration

[observer]
# Feed URL handed to the observation source adapter
url = ""
# Polling interval for the pipeline driver loop
poll_interval = "1s"
# Timeout applied to each poll of the observation source
poll_timeout = "10s"
# Timeout applied to each broadcast sink per cycle
sink_timeout = "2s"
# How long the designated instrument may stay unchanged before recovery
stall_timeout = "30s"
# Instrument watched for liveness on weekdays
weekday_pair = "GOLD"
# Instrument watched for liveness on weekends (forex markets closed)
weekend_pair = "BITCOIN"
# Major currency codes recognized in pair symbols
majors = ["USD", "EUR", "GBP", "JPY", "CHF", "AUD", "CAD", "NZD"]

[storage]
# SQLite database path (alerts, snapshot history, candles)
db_path = ""

[ui]
# Enable colored output
color_enabled = true
# Date format
date_format = "02-Jan-2006"
# Time format
time_format = "15:04:05"

[notifications]
# Enable notifications
enabled = false

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""

[notifications.sms]
enabled = false
url = ""
username = ""
api_key = ""
sender = ""
`

// createTemplateConfig writes a commented config template on first run.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
