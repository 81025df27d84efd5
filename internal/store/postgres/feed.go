package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// Subscribe polls task_changes for entries with a sequence greater than after
// and streams them in order. The channel is closed when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context, after int64) <-chan domain.ChangeEvent {
	out := make(chan domain.ChangeEvent)

	go func() {
		defer close(out)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		cursor := after
		for {
			events, err := s.listChanges(ctx, cursor)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("component", "feed").Int64("cursor", cursor).Msg("feed: poll failed")
			}

			for _, event := range events {
				select {
				case out <- event:
					cursor = event.Sequence
				case <-ctx.Done():
					return
				}
			}
			if len(events) == s.batchSize {
				continue
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (s *Store) listChanges(ctx context.Context, after int64) ([]domain.ChangeEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListChanges, after, s.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChangeEvent
	for rows.Next() {
		var (
			e          domain.ChangeEvent
			changeType string
			before     []byte
			after      []byte
		)
		err := rows.Scan(&e.Sequence, &e.Key.OwnerID, &e.Key.TaskID, &changeType, &before, &after, &e.RecordedAt)
		if err != nil {
			return nil, err
		}
		e.Type = domain.ChangeType(changeType)
		e.RecordedAt = e.RecordedAt.UTC()

		// A corrupt image is passed through as a missing one; the router
		// dead-letters it as poison.
		if e.Before, err = decodeImage(before); err != nil {
			log.Warn().Err(err).Str("component", "feed").Int64("seq", e.Sequence).Msg("feed: bad before-image")
		}
		if e.After, err = decodeImage(after); err != nil {
			log.Warn().Err(err).Str("component", "feed").Int64("seq", e.Sequence).Msg("feed: bad after-image")
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// LoadCursor returns the last sequence saved for consumer, or 0.
func (s *Store) LoadCursor(ctx context.Context, consumer string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var seq int64
	err := s.db.QueryRowContext(ctx, queryLoadCursor, consumer).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// SaveCursor advances the consumer's cursor. It never moves backwards.
func (s *Store) SaveCursor(ctx context.Context, consumer string, seq int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, querySaveCursor, consumer, seq)
	return err
}
