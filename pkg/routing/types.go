// Package routing builds the immutable route table that binds broker subjects
// to static responses or handler chains.
package routing

import (
	"fmt"
	"strings"
)

// DefaultGroupSuffix is appended to a subject when a route declares no queue group.
const DefaultGroupSuffix = ".group"

// Entry is one configured route.
type Entry struct {
	Subject    string
	QueueGroup string
	// HandlerID names a chain in the handler registry. Empty for static routes.
	HandlerID string
	// RequestTypeID names a request type in the type registry. Only meaningful with HandlerID.
	RequestTypeID string
	// StaticResponse is published verbatim when non-nil; no handler runs.
	StaticResponse []byte
	Roles          []string
}

// IsStatic reports whether the entry replies with a precomputed payload.
func (e Entry) IsStatic() bool {
	return e.StaticResponse != nil
}

// Key identifies a subscription.
func (e Entry) Key() RouteKey {
	return RouteKey{Subject: e.Subject, QueueGroup: e.QueueGroup}
}

// RouteKey is the (subject, queue group) pair a subscription is registered under.
type RouteKey struct {
	Subject    string
	QueueGroup string
}

func (k RouteKey) String() string {
	return k.Subject + "@" + k.QueueGroup
}

// DefaultQueueGroup returns the queue group used when a route omits one.
func DefaultQueueGroup(subject string) string {
	return subject + DefaultGroupSuffix
}

// ConfigurationError reports malformed routing input. It is fatal at startup.
type ConfigurationError struct {
	// Index is the position of the offending entry, or -1 when not entry-specific.
	Index   int
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("routing: invalid configuration")
	if e.Index >= 0 {
		fmt.Fprintf(&b, " at item %d", e.Index)
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " (subject %q)", e.Subject)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func configErr(index int, subject, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Index: index, Subject: subject, Reason: fmt.Sprintf(format, args...)}
}
