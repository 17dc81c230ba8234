package db

import (
	"time"

	"github.com/morezero/subject-router/pkg/events"
)

// DispatchRecord is one row of dispatch_log.
type DispatchRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"requestId,omitempty"`
	Subject    string    `json:"subject"`
	QueueGroup string    `json:"queueGroup"`
	HandlerID  string    `json:"handlerId,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Replied    bool      `json:"replied"`
	DurationMs int64     `json:"durationMs"`
	Created    time.Time `json:"created"`
}

// RecordFromEvent converts a dispatch event into a row.
func RecordFromEvent(e *events.DispatchEvent) *DispatchRecord {
	created := e.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &DispatchRecord{
		RequestID:  e.RequestID,
		Subject:    e.Subject,
		QueueGroup: e.QueueGroup,
		HandlerID:  e.HandlerID,
		Outcome:    e.Outcome,
		ErrorKind:  e.ErrorKind,
		Message:    e.Message,
		Replied:    e.Replied,
		DurationMs: e.DurationMs,
		Created:    created,
	}
}

// OutcomeCount is the number of dispatches that ended in one outcome.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}
