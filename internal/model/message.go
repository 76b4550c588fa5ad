package model

import "time"

type MessageLevel string

const (
	LevelInfo   MessageLevel = "info"
	LevelNotice MessageLevel = "notice"
	LevelWarn   MessageLevel = "warn"
	LevelError  MessageLevel = "error"
)

// Message is one entry of the operator feed.
type Message struct {
	ID     string       `json:"id"`
	Time   time.Time    `json:"time"`
	Level  MessageLevel `json:"level"`
	Symbol string       `json:"symbol,omitempty"`
	Text   string       `json:"text"`
}
