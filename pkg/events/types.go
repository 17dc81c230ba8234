// Package events defines dispatch outcome events and the publishers that emit them.
package events

import "time"

// DispatchEvent is emitted once per inbound message after its terminal transition.
type DispatchEvent struct {
	RequestID  string    `json:"requestId,omitempty"`
	Subject    string    `json:"subject"`
	QueueGroup string    `json:"queueGroup"`
	HandlerID  string    `json:"handlerId,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Replied    bool      `json:"replied"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
}
