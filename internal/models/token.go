package models

import (
	"time"
)

const (
	StatusAvailable = "available"
	StatusTaken     = "taken"
	StatusBanned    = "banned"
)

type Token struct {
	ID              string     `json:"-"`
	Token           string     `json:"token"`
	User            string     `json:"user"`
	AddedBy         string     `json:"added_by"`
	Price           int64      `json:"price"`
	Status          string     `json:"status"`
	Timestamp       time.Time  `json:"timestamp"`
	TakenBy         string     `json:"taken_by,omitempty"`
	TakenTimestamp  *time.Time `json:"taken_timestamp,omitempty"`
	BannedBy        string     `json:"banned_by,omitempty"`
	BannedTimestamp *time.Time `json:"banned_timestamp,omitempty"`
}

// Counted reports whether the token still contributes to its owner's aggregates.
func (t *Token) Counted() bool {
	return t.Status != StatusBanned
}
