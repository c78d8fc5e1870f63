// Package feed appends and exposes the store change feed: one row per
// committed mutation, consumed by observers, webhooks, and `cl log tail`.
package feed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeActivityAdded   = "activity.added"
	TypeActivityRemoved = "activity.removed"
	TypeActivityUpdated = "activity.updated"
	TypeEventUpdated    = "event.updated"
	TypePlanImported    = "plan.imported"
)

// Change is a single committed mutation in the feed.
type Change struct {
	ID              int64  `json:"id"`
	TS              string `json:"ts"`
	Type            string `json:"type"`
	ActivityID      string `json:"activity_id,omitempty"`
	DaysSinceStart  *int   `json:"days_since_start,omitempty"`
	OccurrenceIndex *int   `json:"occurrence_index,omitempty"`
	Payload         string `json:"payload"`
}

type Payload map[string]any

type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, c Change, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO changes(ts,type,activity_id,days_since_start,occurrence_index,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, c.Type, nullable(c.ActivityID), c.DaysSinceStart, c.OccurrenceIndex, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
