package routing

import (
	"fmt"
	"log/slog"
	"strings"
)

const logPrefix = "routing:table"

// Table is the validated, read-only route set. It is safe for concurrent use
// because nothing mutates it after Build returns.
type Table struct {
	entries   []Entry
	bySubject map[string]int
	byKey     map[RouteKey]int
}

// Build validates entries and returns a Table. Entries without a queue group get
// DefaultQueueGroup(subject). The input slice is copied.
func Build(entries []Entry) (*Table, error) {
	t := &Table{
		entries:   make([]Entry, 0, len(entries)),
		bySubject: make(map[string]int, len(entries)),
		byKey:     make(map[RouteKey]int, len(entries)),
	}

	for i, in := range entries {
		e := copyEntry(in)
		e.Subject = strings.TrimSpace(e.Subject)
		e.QueueGroup = strings.TrimSpace(e.QueueGroup)
		if e.QueueGroup == "" && e.Subject != "" {
			e.QueueGroup = DefaultQueueGroup(e.Subject)
		}

		if err := validate(i, e); err != nil {
			return nil, err
		}

		key := e.Key()
		if prev, dup := t.byKey[key]; dup {
			return nil, configErr(i, e.Subject, "duplicate route %s (first declared at item %d)", key, prev)
		}

		idx := len(t.entries)
		t.entries = append(t.entries, e)
		t.byKey[key] = idx
		if _, seen := t.bySubject[e.Subject]; !seen {
			t.bySubject[e.Subject] = idx
		}
	}

	slog.Debug(fmt.Sprintf("%s - Built route table with %d entries", logPrefix, len(t.entries)))
	return t, nil
}

func validate(i int, e Entry) error {
	if e.Subject == "" {
		return configErr(i, "", "subject is required")
	}
	hasHandler := e.HandlerID != ""
	switch {
	case !e.IsStatic() && !hasHandler:
		return configErr(i, e.Subject, "route needs either a static response or a handler")
	case e.IsStatic() && hasHandler:
		return configErr(i, e.Subject, "static response and handler %q are mutually exclusive", e.HandlerID)
	case e.RequestTypeID != "" && !hasHandler:
		return configErr(i, e.Subject, "request type %q declared without a handler", e.RequestTypeID)
	}
	return nil
}

// Lookup returns the entry for subject. When several queue groups share a
// subject, the first declared one is returned. A miss is not an error.
func (t *Table) Lookup(subject string) (Entry, bool) {
	idx, ok := t.bySubject[subject]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(t.entries[idx]), true
}

// LookupKey returns the entry registered under the exact (subject, group) pair.
func (t *Table) LookupKey(key RouteKey) (Entry, bool) {
	idx, ok := t.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(t.entries[idx]), true
}

// Entries returns a copy of all entries in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = copyEntry(e)
	}
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.entries)
}

// HandlerIDs returns the distinct handler identifiers referenced by the table.
func (t *Table) HandlerIDs() []string {
	return t.distinct(func(e Entry) string { return e.HandlerID })
}

// RequestTypeIDs returns the distinct request type identifiers referenced by the table.
func (t *Table) RequestTypeIDs() []string {
	return t.distinct(func(e Entry) string { return e.RequestTypeID })
}

func (t *Table) distinct(field func(Entry) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range t.entries {
		v := field(e)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func copyEntry(e Entry) Entry {
	if e.StaticResponse != nil {
		e.StaticResponse = append([]byte{}, e.StaticResponse...)
	}
	if e.Roles != nil {
		e.Roles = append([]string(nil), e.Roles...)
	}
	return e
}
