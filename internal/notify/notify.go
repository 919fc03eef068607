// Package notify delivers triggered price alerts over email and SMS.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-observer/internal/config"
	"market-observer/internal/logging"
	"market-observer/internal/models"
)

// Notifier delivers a triggered alert to a single contact channel.
type Notifier interface {
	Name() string
	IsEnabled() bool
	SendAlert(ctx context.Context, event models.TriggerEvent) error
}

// formatSubject builds the message subject line for a trigger event.
func formatSubject(event models.TriggerEvent) string {
	return fmt.Sprintf("Price Alert: %s %s %s",
		event.Alert.Pair, event.Alert.Condition, formatPrice(event.Alert.TargetPrice))
}

// formatBody builds the message body for a trigger event.
func formatBody(event models.TriggerEvent) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pair: %s\n", event.Alert.Pair))
	sb.WriteString(fmt.Sprintf("Condition: price %s %s\n", event.Alert.Condition, formatPrice(event.Alert.TargetPrice)))
	sb.WriteString(fmt.Sprintf("Current Price: %s\n", formatPrice(event.CurrentPrice)))
	sb.WriteString(fmt.Sprintf("Time: %s", time.Now().Format("2006-01-02 15:04:05")))

	if event.Alert.CustomMessage != "" {
		sb.WriteString("\n\n")
		sb.WriteString(event.Alert.CustomMessage)
	}
	return sb.String()
}

// formatPrice trims trailing zeros so FX pairs keep their pips and index
// levels stay short.
func formatPrice(v float64) string {
	s := fmt.Sprintf("%.5f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// Dispatcher fans a trigger event out to the channels the alert asked for.
// Channel failures are isolated: one failing channel never blocks another,
// and a failure is logged rather than undoing the trigger.
type Dispatcher struct {
	email  Notifier
	sms    Notifier
	logger zerolog.Logger
}

// NewDispatcher builds a dispatcher from the notification configuration.
func NewDispatcher(cfg config.NotificationConfig, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		email:  NewNoOpNotifier("email"),
		sms:    NewNoOpNotifier("sms"),
		logger: logging.WithComponent(logger, "notify"),
	}
	if cfg.Enabled {
		if cfg.Email.Enabled {
			d.email = NewEmailNotifier(cfg.Email)
		}
		if cfg.SMS.Enabled {
			d.sms = NewSMSNotifier(cfg.SMS)
		}
	}
	return d
}

// NewDispatcherWithNotifiers wires explicit notifiers, used in tests.
func NewDispatcherWithNotifiers(email, sms Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{email: email, sms: sms, logger: logging.WithComponent(logger, "notify")}
}

// Dispatch sends the event over each channel named on the alert. It always
// attempts every requested channel and returns the combined failures.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.TriggerEvent) error {
	var errs []string

	if event.Alert.HasChannel(models.ChannelEmail) {
		if err := d.send(ctx, d.email, event); err != nil {
			errs = append(errs, fmt.Sprintf("email: %v", err))
		}
	}
	if event.Alert.HasChannel(models.ChannelSMS) {
		if err := d.send(ctx, d.sms, event); err != nil {
			errs = append(errs, fmt.Sprintf("sms: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, event models.TriggerEvent) error {
	if !n.IsEnabled() {
		d.logger.Debug().Str("channel", n.Name()).Str("alert_id", event.Alert.ID).
			Msg("Channel disabled, skipping")
		return nil
	}
	if err := n.SendAlert(ctx, event); err != nil {
		d.logger.Error().Err(err).Str("channel", n.Name()).Str("alert_id", event.Alert.ID).
			Msg("Notification failed")
		return err
	}
	d.logger.Info().Str("channel", n.Name()).Str("alert_id", event.Alert.ID).
		Str("pair", event.Alert.Pair).Msg("Notification sent")
	return nil
}

// EmailNotifier sends alert emails over SMTP.
type EmailNotifier struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	enabled  bool
}

// NewEmailNotifier creates an EmailNotifier from configuration.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		smtpHost: cfg.SMTPHost,
		smtpPort: cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		enabled:  cfg.Enabled && cfg.SMTPHost != "" && cfg.From != "",
	}
}

// Name returns the channel name.
func (e *EmailNotifier) Name() string { return "email" }

// IsEnabled returns whether the notifier is enabled.
func (e *EmailNotifier) IsEnabled() bool { return e.enabled }

// SendAlert sends the trigger event to the alert's email address.
func (e *EmailNotifier) SendAlert(ctx context.Context, event models.TriggerEvent) error {
	to := event.Alert.Email
	if to == "" {
		return fmt.Errorf("alert %s has no email address", event.Alert.ID)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		e.from, to, formatSubject(event), formatBody(event))

	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	// Port 465 is implicit TLS; 587 and others go through SendMail, which
	// upgrades via STARTTLS when the server offers it.
	if e.smtpPort == 465 {
		return e.sendWithTLS(addr, auth, to, msg)
	}
	return smtp.SendMail(addr, auth, e.from, []string{to}, []byte(msg))
}

func (e *EmailNotifier) sendWithTLS(addr string, auth smtp.Auth, to, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.smtpHost})
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT command failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}
	return client.Quit()
}

// SMSNotifier sends alert texts through an HTTP SMS gateway.
type SMSNotifier struct {
	url      string
	username string
	apiKey   string
	sender   string
	enabled  bool
	client   *http.Client
}

// NewSMSNotifier creates an SMSNotifier from configuration.
func NewSMSNotifier(cfg config.SMSConfig) *SMSNotifier {
	return &SMSNotifier{
		url:      cfg.URL,
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		sender:   cfg.Sender,
		enabled:  cfg.Enabled && cfg.URL != "" && cfg.APIKey != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel name.
func (s *SMSNotifier) Name() string { return "sms" }

// IsEnabled returns whether the notifier is enabled.
func (s *SMSNotifier) IsEnabled() bool { return s.enabled }

// SendAlert posts the trigger event to the gateway as a single text.
func (s *SMSNotifier) SendAlert(ctx context.Context, event models.TriggerEvent) error {
	to := event.Alert.Phone
	if to == "" {
		return fmt.Errorf("alert %s has no phone number", event.Alert.ID)
	}

	text := fmt.Sprintf("%s: now %s", formatSubject(event), formatPrice(event.CurrentPrice))
	if event.Alert.CustomMessage != "" {
		text += " - " + event.Alert.CustomMessage
	}

	payload := map[string]interface{}{
		"username": s.username,
		"api_key":  s.apiKey,
		"sender":   s.sender,
		"to":       to,
		"message":  text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// NoOpNotifier discards everything. Used when a channel is not configured
// and in tests.
type NoOpNotifier struct {
	name string
}

// NewNoOpNotifier creates a NoOpNotifier with the given channel name.
func NewNoOpNotifier(name string) *NoOpNotifier {
	return &NoOpNotifier{name: name}
}

// Name returns the channel name.
func (n *NoOpNotifier) Name() string { return n.name }

// IsEnabled reports false so dispatch skips the channel silently.
func (n *NoOpNotifier) IsEnabled() bool { return false }

// SendAlert does nothing.
func (n *NoOpNotifier) SendAlert(ctx context.Context, event models.TriggerEvent) error {
	return nil
}
