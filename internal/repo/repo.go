package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"careline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ActivityFilter narrows ListActivities. Zero value matches everything.
type ActivityFilter struct {
	Types           []domain.ActivityType
	GroupIdentifier string
}

const activityColumns = `identifier,COALESCE(group_identifier,'') AS group_identifier,type,title,COALESCE(text,'') AS text,COALESCE(tint_color,'') AS tint_color,COALESCE(instructions,'') AS instructions,schedule_type,start_date,end_date,occurrences_json,periods_to_skip,result_resettable,optional,thresholds_json,user_info_json,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (domain.Activity, error) {
	var (
		a              domain.Activity
		startDate      string
		endDate        sql.NullString
		occurrences    string
		thresholds     sql.NullString
		userInfo       sql.NullString
		resettable, op int
	)
	err := row.Scan(&a.Identifier, &a.GroupIdentifier, &a.Type, &a.Title, &a.Text, &a.TintColor, &a.Instructions,
		&a.Schedule.Type, &startDate, &endDate, &occurrences, &a.Schedule.PeriodsToSkip,
		&resettable, &op, &thresholds, &userInfo, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if a.Schedule.StartDate, err = domain.ParseDate(startDate); err != nil {
		return a, fmt.Errorf("activity %s start date: %w", a.Identifier, err)
	}
	if endDate.Valid {
		d, err := domain.ParseDate(endDate.String)
		if err != nil {
			return a, fmt.Errorf("activity %s end date: %w", a.Identifier, err)
		}
		a.Schedule.EndDate = &d
	}
	if err := json.Unmarshal([]byte(occurrences), &a.Schedule.Occurrences); err != nil {
		return a, fmt.Errorf("activity %s occurrences: %w", a.Identifier, err)
	}
	if thresholds.Valid && thresholds.String != "" {
		if err := json.Unmarshal([]byte(thresholds.String), &a.Thresholds); err != nil {
			return a, fmt.Errorf("activity %s thresholds: %w", a.Identifier, err)
		}
	}
	if userInfo.Valid && userInfo.String != "" {
		if err := json.Unmarshal([]byte(userInfo.String), &a.UserInfo); err != nil {
			return a, fmt.Errorf("activity %s user info: %w", a.Identifier, err)
		}
	}
	a.ResultResettable = resettable != 0
	a.Optional = op != 0
	return a, nil
}

func (r Repo) InsertActivityTx(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	occurrences, err := json.Marshal(a.Schedule.Occurrences)
	if err != nil {
		return fmt.Errorf("marshal occurrences: %w", err)
	}
	var thresholds any
	if len(a.Thresholds) > 0 {
		data, err := json.Marshal(a.Thresholds)
		if err != nil {
			return fmt.Errorf("marshal thresholds: %w", err)
		}
		thresholds = string(data)
	}
	var userInfo any
	if len(a.UserInfo) > 0 {
		data, err := json.Marshal(a.UserInfo)
		if err != nil {
			return fmt.Errorf("marshal user info: %w", err)
		}
		userInfo = string(data)
	}
	var endDate any
	if a.Schedule.EndDate != nil {
		endDate = a.Schedule.EndDate.String()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO activities(identifier,seq,group_identifier,type,title,text,tint_color,instructions,schedule_type,start_date,end_date,occurrences_json,periods_to_skip,result_resettable,optional,thresholds_json,user_info_json,created_at)
		VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM activities),?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.Identifier, nullable(a.GroupIdentifier), a.Type, a.Title, nullable(a.Text), nullable(a.TintColor), nullable(a.Instructions),
		a.Schedule.Type, a.Schedule.StartDate.String(), endDate, string(occurrences), a.Schedule.PeriodsToSkip,
		boolInt(a.ResultResettable), boolInt(a.Optional), thresholds, userInfo, a.CreatedAt)
	return err
}

func (r Repo) GetActivity(ctx context.Context, identifier string) (domain.Activity, error) {
	return scanActivity(r.DB.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE identifier=?`, identifier))
}

func (r Repo) GetActivityTx(ctx context.Context, tx *sql.Tx, identifier string) (domain.Activity, error) {
	return scanActivity(tx.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE identifier=?`, identifier))
}

func (r Repo) ActivityExistsTx(ctx context.Context, tx *sql.Tx, identifier string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM activities WHERE identifier=?`, identifier).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListActivities(ctx context.Context, f ActivityFilter) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities`
	var (
		clauses []string
		args    []any
	)
	if len(f.Types) > 0 {
		placeholders := ""
		for i, t := range f.Types {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, t)
		}
		clauses = append(clauses, "type IN ("+placeholders+")")
	}
	if f.GroupIdentifier != "" {
		clauses = append(clauses, "group_identifier=?")
		args = append(args, f.GroupIdentifier)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY seq"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) DeleteActivityTx(ctx context.Context, tx *sql.Tx, identifier string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE identifier=?`, identifier)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetActivityEndDateTx(ctx context.Context, tx *sql.Tx, identifier string, end domain.Date) error {
	res, err := tx.ExecContext(ctx, `UPDATE activities SET end_date=? WHERE identifier=?`, end.String(), identifier)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
