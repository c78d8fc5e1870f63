package repo

import (
	"context"
	"database/sql"
)

func (r Repo) GetPlanConfig(ctx context.Context) (string, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM plan_configs WHERE id=1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return raw, err
}

func (r Repo) UpsertPlanConfigTx(ctx context.Context, tx *sql.Tx, raw, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plan_configs(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
		ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json,updated_at=excluded.updated_at`, raw, now, now)
	return err
}
