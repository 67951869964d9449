package room

import (
	"context"

	log "github.com/sirupsen/logrus"

	"realtime-board/internal/board"
)

// tieredStore reads through a fast cache to a durable store and writes to
// both.
type tieredStore struct {
	cache   Store
	durable Store
}

// Tiered returns a Store that loads from cache first and falls back to
// durable, warming the cache on a miss. Saves and deletes go to both; a
// failing cache write is logged and does not fail the operation.
func Tiered(cache, durable Store) Store {
	return &tieredStore{cache: cache, durable: durable}
}

func (s *tieredStore) LoadDocument(ctx context.Context, roomID string) (*board.Document, error) {
	doc, err := s.cache.LoadDocument(ctx, roomID)
	if err != nil {
		log.WithError(err).Warnf("[Store] Cache load failed for %s, using durable store", roomID)
	}
	if doc != nil {
		return doc, nil
	}

	doc, err = s.durable.LoadDocument(ctx, roomID)
	if err != nil || doc == nil {
		return doc, err
	}
	if err := s.cache.SaveDocument(ctx, roomID, doc); err != nil {
		log.WithError(err).Warnf("[Store] Cache warm failed for %s", roomID)
	}
	return doc, nil
}

func (s *tieredStore) SaveDocument(ctx context.Context, roomID string, doc *board.Document) error {
	if err := s.cache.SaveDocument(ctx, roomID, doc); err != nil {
		log.WithError(err).Warnf("[Store] Cache save failed for %s", roomID)
	}
	return s.durable.SaveDocument(ctx, roomID, doc)
}

func (s *tieredStore) DeleteDocument(ctx context.Context, roomID string) error {
	if err := s.cache.DeleteDocument(ctx, roomID); err != nil {
		log.WithError(err).Warnf("[Store] Cache delete failed for %s", roomID)
	}
	return s.durable.DeleteDocument(ctx, roomID)
}
