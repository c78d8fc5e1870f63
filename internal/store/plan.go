package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"careline/internal/config"
	"careline/internal/feed"
)

// PlanImportSummary reports what an import changed.
type PlanImportSummary struct {
	PlanID  string `json:"plan_id"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
}

// ImportPlan stores the plan document and adds its activities. Activities
// whose identifier already exists are skipped, so re-importing an amended
// plan only adds what is new.
func (s *Store) ImportPlan(ctx context.Context, plan *config.Plan) (PlanImportSummary, error) {
	activities, err := plan.DomainActivities()
	if err != nil {
		return PlanImportSummary{}, err
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return PlanImportSummary{}, fmt.Errorf("marshal plan: %w", err)
	}
	var summary PlanImportSummary
	err = s.do(ctx, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := s.now().UTC().Format(time.RFC3339)
		if err := s.Repo.UpsertPlanConfigTx(ctx, tx, string(raw), now); err != nil {
			return fmt.Errorf("store plan config: %w", err)
		}
		added, skipped := 0, 0
		for _, a := range activities {
			exists, err := s.Repo.ActivityExistsTx(ctx, tx, a.Identifier)
			if err != nil {
				return fmt.Errorf("check activity %s: %w", a.Identifier, err)
			}
			if exists {
				skipped++
				continue
			}
			a.CreatedAt = now
			if err := s.Repo.InsertActivityTx(ctx, tx, a); err != nil {
				return fmt.Errorf("insert activity %s: %w", a.Identifier, err)
			}
			added++
		}
		if err := s.Feed.Append(ctx, tx, feed.Change{Type: feed.TypePlanImported},
			feed.Payload{"plan_id": plan.Plan.ID, "added": added, "skipped": skipped}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		summary = PlanImportSummary{PlanID: plan.Plan.ID, Added: added, Skipped: skipped}
		if added > 0 {
			s.noteActivityList()
		}
		return nil
	})
	return summary, err
}

// PlanConfig returns the stored plan document, if any.
func (s *Store) PlanConfig(ctx context.Context) (*config.Plan, error) {
	var out *config.Plan
	err := s.do(ctx, func(ctx context.Context) error {
		raw, err := s.Repo.GetPlanConfig(ctx)
		if err != nil {
			return err
		}
		var p config.Plan
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return fmt.Errorf("decode stored plan: %w", err)
		}
		out = &p
		return nil
	})
	return out, err
}

// Changes returns up to limit feed rows with an id greater than afterID.
func (s *Store) Changes(ctx context.Context, limit int, afterID int64) ([]feed.Change, error) {
	var out []feed.Change
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.Repo.ChangesAfter(ctx, limit, afterID)
		return err
	})
	return out, err
}

// LatestChangeID returns the id of the newest feed row, zero when empty.
func (s *Store) LatestChangeID(ctx context.Context) (int64, error) {
	var out int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.Repo.LatestChangeID(ctx)
		return err
	})
	return out, err
}
