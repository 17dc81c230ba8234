package db

import (
	"context"
	"fmt"

	"github.com/morezero/subject-router/pkg/events"
)

const outcomeStoreLogPrefix = "db:outcome_store"

// DispatchWriter is the part of Repository OutcomeStore needs.
type DispatchWriter interface {
	InsertDispatch(ctx context.Context, rec *DispatchRecord) (int64, error)
}

// OutcomeStore is an events.EventPublisher that writes every dispatch event to the dispatch log.
type OutcomeStore struct {
	writer DispatchWriter
}

// NewOutcomeStore creates an OutcomeStore backed by writer.
func NewOutcomeStore(writer DispatchWriter) *OutcomeStore {
	return &OutcomeStore{writer: writer}
}

// PublishDispatched persists event.
func (s *OutcomeStore) PublishDispatched(ctx context.Context, event *events.DispatchEvent) error {
	if _, err := s.writer.InsertDispatch(ctx, RecordFromEvent(event)); err != nil {
		return fmt.Errorf("%s - %w", outcomeStoreLogPrefix, err)
	}
	return nil
}

var _ events.EventPublisher = (*OutcomeStore)(nil)
