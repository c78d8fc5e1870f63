package store

import (
	"context"
	"fmt"
	"time"

	"careline/internal/domain"
	"careline/internal/feed"
	"careline/internal/repo"
)

// AddActivity validates and persists a new activity. The identifier must
// be unique across the store; a clash fails with ErrDuplicateIdentifier
// and leaves nothing behind.
func (s *Store) AddActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	if err := a.Validate(); err != nil {
		return domain.Activity{}, err
	}
	var out domain.Activity
	err := s.do(ctx, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		exists, err := s.Repo.ActivityExistsTx(ctx, tx, a.Identifier)
		if err != nil {
			return fmt.Errorf("check activity %s: %w", a.Identifier, err)
		}
		if exists {
			return fmt.Errorf("activity %s: %w", a.Identifier, ErrDuplicateIdentifier)
		}
		a.CreatedAt = s.now().UTC().Format(time.RFC3339)
		if err := s.Repo.InsertActivityTx(ctx, tx, a); err != nil {
			return fmt.Errorf("insert activity %s: %w", a.Identifier, err)
		}
		if err := s.Feed.Append(ctx, tx, feed.Change{Type: feed.TypeActivityAdded, ActivityID: a.Identifier},
			feed.Payload{"type": a.Type, "title": a.Title}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = a
		s.noteActivityList()
		return nil
	})
	return out, err
}

// Activities returns every activity in insertion order.
func (s *Store) Activities(ctx context.Context) ([]domain.Activity, error) {
	return s.listActivities(ctx, repo.ActivityFilter{})
}

func (s *Store) ActivitiesOfType(ctx context.Context, t domain.ActivityType) ([]domain.Activity, error) {
	return s.listActivities(ctx, repo.ActivityFilter{Types: []domain.ActivityType{t}})
}

func (s *Store) ActivitiesWithGroupIdentifier(ctx context.Context, group string) ([]domain.Activity, error) {
	return s.listActivities(ctx, repo.ActivityFilter{GroupIdentifier: group})
}

func (s *Store) listActivities(ctx context.Context, f repo.ActivityFilter) ([]domain.Activity, error) {
	var out []domain.Activity
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.Repo.ListActivities(ctx, f)
		return err
	})
	return out, err
}

func (s *Store) ActivityForIdentifier(ctx context.Context, identifier string) (domain.Activity, error) {
	var out domain.Activity
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.Repo.GetActivity(ctx, identifier)
		return err
	})
	return out, err
}

// RemoveActivity deletes the activity and, through the schema cascade,
// every event materialized for it.
func (s *Store) RemoveActivity(ctx context.Context, identifier string) error {
	return s.do(ctx, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := s.Repo.DeleteActivityTx(ctx, tx, identifier); err != nil {
			return fmt.Errorf("delete activity %s: %w", identifier, err)
		}
		if err := s.Feed.Append(ctx, tx, feed.Change{Type: feed.TypeActivityRemoved, ActivityID: identifier}, nil); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.noteActivityList()
		return nil
	})
}

// SetEndDate ends the activity's schedule on the given date. The end
// date must not fall before the schedule's start date, and can be set
// only once per activity.
func (s *Store) SetEndDate(ctx context.Context, identifier string, end domain.Date) (domain.Activity, error) {
	var out domain.Activity
	err := s.do(ctx, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		a, err := s.Repo.GetActivityTx(ctx, tx, identifier)
		if err != nil {
			return fmt.Errorf("activity %s: %w", identifier, err)
		}
		if a.Schedule.EndDate != nil {
			return fmt.Errorf("activity %s already ends on %s: %w", identifier, a.Schedule.EndDate, ErrInvalidTransition)
		}
		if end.Before(a.Schedule.StartDate) {
			return fmt.Errorf("end date %s precedes start date %s: %w", end, a.Schedule.StartDate, domain.ErrInvalidDate)
		}
		if err := s.Repo.SetActivityEndDateTx(ctx, tx, identifier, end); err != nil {
			return fmt.Errorf("set end date for %s: %w", identifier, err)
		}
		if err := s.Feed.Append(ctx, tx, feed.Change{Type: feed.TypeActivityUpdated, ActivityID: identifier},
			feed.Payload{"end_date": end.String()}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		endCopy := end
		a.Schedule.EndDate = &endCopy
		out = a
		s.noteActivityList()
		return nil
	})
	return out, err
}
