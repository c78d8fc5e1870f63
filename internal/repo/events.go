package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"careline/internal/domain"
)

const eventColumns = `activity_id,days_since_start,occurrence_index,state,result_created_at,result_value,result_unit,result_user_info_json`

// EventRow is an event as stored, before the owning activity is attached.
type EventRow struct {
	ActivityID      string
	DaysSinceStart  int
	OccurrenceIndex int
	State           domain.EventState
	Result          *domain.EventResult
}

func scanEventRow(row rowScanner) (EventRow, error) {
	var (
		e          EventRow
		resultTS   sql.NullString
		resultVal  sql.NullString
		resultUnit sql.NullString
		resultInfo sql.NullString
	)
	err := row.Scan(&e.ActivityID, &e.DaysSinceStart, &e.OccurrenceIndex, &e.State, &resultTS, &resultVal, &resultUnit, &resultInfo)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if resultTS.Valid {
		res := &domain.EventResult{
			CreationDate: resultTS.String,
			ValueString:  resultVal.String,
			UnitString:   resultUnit.String,
		}
		if resultInfo.Valid && resultInfo.String != "" {
			if err := json.Unmarshal([]byte(resultInfo.String), &res.UserInfo); err != nil {
				return e, fmt.Errorf("event %s/%d/%d result user info: %w", e.ActivityID, e.DaysSinceStart, e.OccurrenceIndex, err)
			}
		}
		e.Result = res
	}
	return e, nil
}

func (r Repo) GetEventTx(ctx context.Context, tx *sql.Tx, activityID string, day, occurrence int) (EventRow, error) {
	return scanEventRow(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE activity_id=? AND days_since_start=? AND occurrence_index=?`,
		activityID, day, occurrence))
}

func (r Repo) InsertEventTx(ctx context.Context, tx *sql.Tx, e EventRow, now string) error {
	resultTS, resultVal, resultUnit, resultInfo, err := resultFields(e.Result)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(activity_id,days_since_start,occurrence_index,state,result_created_at,result_value,result_unit,result_user_info_json,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ActivityID, e.DaysSinceStart, e.OccurrenceIndex, e.State, resultTS, resultVal, resultUnit, resultInfo, now, now)
	return err
}

func (r Repo) UpdateEventTx(ctx context.Context, tx *sql.Tx, e EventRow, now string) error {
	resultTS, resultVal, resultUnit, resultInfo, err := resultFields(e.Result)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE events SET state=?,result_created_at=?,result_value=?,result_unit=?,result_user_info_json=?,updated_at=? WHERE activity_id=? AND days_since_start=? AND occurrence_index=?`,
		e.State, resultTS, resultVal, resultUnit, resultInfo, now, e.ActivityID, e.DaysSinceStart, e.OccurrenceIndex)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) EventsForDayTx(ctx context.Context, tx *sql.Tx, activityID string, day int) ([]EventRow, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE activity_id=? AND days_since_start=? ORDER BY occurrence_index`,
		activityID, day)
	if err != nil {
		return nil, err
	}
	return collectEventRows(rows)
}

func (r Repo) CompletedCountTx(ctx context.Context, tx *sql.Tx, activityID string, day int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE activity_id=? AND days_since_start=? AND state=?`,
		activityID, day, domain.EventCompleted).Scan(&n)
	return n, err
}

func collectEventRows(rows *sql.Rows) ([]EventRow, error) {
	defer rows.Close()
	var res []EventRow
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func resultFields(res *domain.EventResult) (ts, val, unit, info any, err error) {
	if res == nil {
		return nil, nil, nil, nil, nil
	}
	ts = res.CreationDate
	val = nullable(res.ValueString)
	unit = nullable(res.UnitString)
	if len(res.UserInfo) > 0 {
		data, err := json.Marshal(res.UserInfo)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal result user info: %w", err)
		}
		info = string(data)
	}
	return ts, val, unit, info, nil
}
