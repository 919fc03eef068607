package models

import "time"

// AlertCondition is the comparison an alert applies to the current price.
type AlertCondition string

const (
	ConditionAbove AlertCondition = "above"
	ConditionBelow AlertCondition = "below"
	ConditionEqual AlertCondition = "equal"
)

// Valid reports whether the condition is a known one.
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionAbove, ConditionBelow, ConditionEqual:
		return true
	}
	return false
}

// AlertStatus is the lifecycle state of an alert. Triggered is terminal;
// an alert is never re-armed automatically.
type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusTriggered AlertStatus = "triggered"
	StatusDisabled  AlertStatus = "disabled"
)

// AlertChannel is a delivery channel for a triggered alert.
type AlertChannel string

const (
	ChannelEmail AlertChannel = "email"
	ChannelSMS   AlertChannel = "sms"
)

// Alert represents a price alert.
type Alert struct {
	ID               string         `json:"id"`
	Pair             string         `json:"pair"`
	TargetPrice      float64        `json:"target_price"`
	Condition        AlertCondition `json:"condition"`
	Status           AlertStatus    `json:"status"`
	Channels         []AlertChannel `json:"channels"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	CustomMessage    string         `json:"custom_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	TriggeredAt      *time.Time     `json:"triggered_at,omitempty"`
	LastCheckedPrice *float64       `json:"last_checked_price,omitempty"`
}

// HasChannel reports whether the alert is configured for the given channel.
func (a *Alert) HasChannel(ch AlertChannel) bool {
	for _, c := range a.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// TriggerEvent is emitted when an alert fires during evaluation.
type TriggerEvent struct {
	Alert        Alert
	CurrentPrice float64
}
