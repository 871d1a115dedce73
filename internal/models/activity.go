package models

import (
	"time"
)

const (
	MessageSystem = "system"
	MessageUser   = "user"
)

// SystemSender is the display name used for notifications written by the service.
const SystemSender = "Sistem"

type ActivityLog struct {
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatMessage struct {
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
}
