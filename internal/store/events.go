package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppendEvent appends an audit event.
func (q *Queries) AppendEvent(ctx context.Context, event Event) error {
	if event.ActorType == "" || event.ActorID == "" {
		return fmt.Errorf("event actor_type and actor_id are required")
	}

	data := []byte("{}")
	if event.Data != nil {
		var err error
		data, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	_, err := q.db.Exec(ctx, `
		INSERT INTO events (stream_type, stream_id, event_type, data, actor_type, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.StreamType, event.StreamID, event.EventType, data, event.ActorType, event.ActorID)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEventsByStream returns the newest events for a stream.
func (q *Queries) ListEventsByStream(ctx context.Context, streamID string, limit int32) ([]Event, error) {
	rows, err := q.db.Query(ctx, `
		SELECT stream_type, stream_id, event_type, data, actor_type, actor_id
		FROM events
		WHERE stream_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var data []byte
		if err := rows.Scan(&ev.StreamType, &ev.StreamID, &ev.EventType, &data, &ev.ActorType, &ev.ActorID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &ev.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
