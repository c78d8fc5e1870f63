package repo

import (
	"context"
	"database/sql"

	"careline/internal/feed"
)

func (r Repo) ChangesAfter(ctx context.Context, limit int, afterID int64) ([]feed.Change, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(activity_id,'') AS activity_id,days_since_start,occurrence_index,payload_json FROM changes WHERE id>? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []feed.Change
	for rows.Next() {
		var (
			c        feed.Change
			day, occ sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.TS, &c.Type, &c.ActivityID, &day, &occ, &c.Payload); err != nil {
			return nil, err
		}
		if day.Valid {
			v := int(day.Int64)
			c.DaysSinceStart = &v
		}
		if occ.Valid {
			v := int(occ.Int64)
			c.OccurrenceIndex = &v
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) LatestChangeID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM changes`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
