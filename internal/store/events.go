package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"careline/internal/domain"
	"careline/internal/feed"
	"careline/internal/repo"
)

// EventsOnDate returns the events of every matching activity on the given
// day, one group per activity in insertion order. Events are materialized
// on first access: exactly as many rows as the schedule prescribes, with
// occurrence indices 0..n-1, and never re-created afterwards. Pass no
// types to include every activity type.
func (s *Store) EventsOnDate(ctx context.Context, date domain.Date, types ...domain.ActivityType) ([][]domain.Event, error) {
	var out [][]domain.Event
	err := s.do(ctx, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		activities, err := s.Repo.ListActivities(ctx, repo.ActivityFilter{Types: types})
		if err != nil {
			return err
		}
		var groups [][]domain.Event
		for _, a := range activities {
			group, err := s.materializeDayTx(ctx, tx, a, date)
			if err != nil {
				return err
			}
			if len(group) > 0 {
				groups = append(groups, group)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = groups
		return nil
	})
	return out, err
}

// EventsForActivity returns the activity's events on one day, materializing
// them if needed.
func (s *Store) EventsForActivity(ctx context.Context, identifier string, date domain.Date) ([]domain.Event, error) {
	var out []domain.Event
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
		group, err := s.materializeDayTx(ctx, tx, a, date)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = group
		return nil
	})
	return out, err
}

// materializeDayTx returns the activity's events for date, inserting the
// schedule-prescribed rows on first access. Runs on the worker goroutine.
func (s *Store) materializeDayTx(ctx context.Context, tx *sql.Tx, a domain.Activity, date domain.Date) ([]domain.Event, error) {
	n := a.Schedule.NumberOfEventsOnDate(date)
	if n == 0 {
		return nil, nil
	}
	day := a.Schedule.DaysSinceStart(date)
	rows, err := s.Repo.EventsForDayTx(ctx, tx, a.Identifier, day)
	if err != nil {
		return nil, fmt.Errorf("events for %s day %d: %w", a.Identifier, day, err)
	}
	if len(rows) < n {
		// A direct UpdateEvent may have created some slots already;
		// fill in the rest so the day always holds indices 0..n-1.
		now := s.now().UTC().Format(time.RFC3339)
		byIndex := make(map[int]repo.EventRow, len(rows))
		for _, row := range rows {
			byIndex[row.OccurrenceIndex] = row
		}
		rows = rows[:0]
		for i := 0; i < n; i++ {
			row, ok := byIndex[i]
			if !ok {
				row = repo.EventRow{ActivityID: a.Identifier, DaysSinceStart: day, OccurrenceIndex: i, State: domain.EventInitial}
				if err := s.Repo.InsertEventTx(ctx, tx, row, now); err != nil {
					return nil, fmt.Errorf("materialize %s day %d: %w", a.Identifier, day, err)
				}
			}
			rows = append(rows, row)
		}
	}
	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.Event{
			DaysSinceStart:  row.DaysSinceStart,
			OccurrenceIndex: row.OccurrenceIndex,
			Date:            date,
			State:           row.State,
			Result:          row.Result,
			Activity:        a,
		})
	}
	return events, nil
}

// UpdateEvent sets the state and result of one event slot. The update is
// idempotent: an unmaterialized slot is created on the way. Attaching a
// result to a read-only activity's event fails with ErrInvalidTransition.
func (s *Store) UpdateEvent(ctx context.Context, identifier string, date domain.Date, occurrenceIndex int, state domain.EventState, result *domain.EventResult) (domain.Event, error) {
	if !domain.ValidEventState(state) {
		return domain.Event{}, fmt.Errorf("event state %q: %w", state, domain.ErrInvalidArgument)
	}
	var out domain.Event
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
		if a.Type == domain.ActivityReadOnly && result != nil {
			return fmt.Errorf("activity %s is read-only: %w", identifier, ErrInvalidTransition)
		}
		n := a.Schedule.NumberOfEventsOnDate(date)
		if occurrenceIndex < 0 || occurrenceIndex >= n {
			return fmt.Errorf("occurrence %d on %s (schedule has %d): %w", occurrenceIndex, date, n, domain.ErrInvalidArgument)
		}
		day := a.Schedule.DaysSinceStart(date)
		now := s.now().UTC().Format(time.RFC3339)
		if result != nil {
			r := *result
			if r.CreationDate == "" {
				r.CreationDate = now
			}
			result = &r
		}
		row := repo.EventRow{ActivityID: identifier, DaysSinceStart: day, OccurrenceIndex: occurrenceIndex, State: state, Result: result}
		if _, err := s.Repo.GetEventTx(ctx, tx, identifier, day, occurrenceIndex); err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("event %s/%d/%d: %w", identifier, day, occurrenceIndex, err)
			}
			if err := s.Repo.InsertEventTx(ctx, tx, row, now); err != nil {
				return fmt.Errorf("insert event %s/%d/%d: %w", identifier, day, occurrenceIndex, err)
			}
		} else if err := s.Repo.UpdateEventTx(ctx, tx, row, now); err != nil {
			return fmt.Errorf("update event %s/%d/%d: %w", identifier, day, occurrenceIndex, err)
		}
		e := domain.Event{
			DaysSinceStart:  day,
			OccurrenceIndex: occurrenceIndex,
			Date:            date,
			State:           state,
			Result:          result,
			Activity:        a,
		}
		if err := s.Feed.Append(ctx, tx, feed.Change{
			Type:            feed.TypeEventUpdated,
			ActivityID:      identifier,
			DaysSinceStart:  &day,
			OccurrenceIndex: &occurrenceIndex,
		}, feed.Payload{"state": state, "date": date.String()}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = e
		s.noteEvent(e)
		return nil
	})
	return out, err
}

// EnumerateEvents walks the activity's events from one date to another,
// materializing each day and calling handler in chronological then
// occurrence order. Returning false from handler stops the walk; days
// already materialized stay committed.
func (s *Store) EnumerateEvents(ctx context.Context, identifier string, from, to domain.Date, handler func(e domain.Event) bool) error {
	if to.Before(from) {
		return fmt.Errorf("range %s..%s: %w", from, to, domain.ErrInvalidDate)
	}
	return s.do(ctx, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		a, err := s.Repo.GetActivityTx(ctx, tx, identifier)
		if err != nil {
			return fmt.Errorf("activity %s: %w", identifier, err)
		}
		stopped := false
		for d := from; !stopped && !d.After(to); d = d.AddDays(1) {
			group, err := s.materializeDayTx(ctx, tx, a, d)
			if err != nil {
				return err
			}
			for _, e := range group {
				if !handler(e) {
					stopped = true
					break
				}
			}
		}
		return tx.Commit()
	})
}

// DailyCompletionStatus reports, for each day in the range, how many
// events of non-optional activities were completed against how many the
// schedules prescribe. It never materializes events: days nobody looked
// at count zero completed. Returning false from handler stops the walk.
func (s *Store) DailyCompletionStatus(ctx context.Context, from, to domain.Date, handler func(date domain.Date, completed, total int) bool) error {
	if to.Before(from) {
		return fmt.Errorf("range %s..%s: %w", from, to, domain.ErrInvalidDate)
	}
	return s.do(ctx, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		activities, err := s.Repo.ListActivities(ctx, repo.ActivityFilter{})
		if err != nil {
			return err
		}
		for d := from; !d.After(to); d = d.AddDays(1) {
			total, completed := 0, 0
			for _, a := range activities {
				if a.Optional {
					continue
				}
				n := a.Schedule.NumberOfEventsOnDate(d)
				if n == 0 {
					continue
				}
				total += n
				c, err := s.Repo.CompletedCountTx(ctx, tx, a.Identifier, a.Schedule.DaysSinceStart(d))
				if err != nil {
					return fmt.Errorf("completion for %s on %s: %w", a.Identifier, d, err)
				}
				completed += c
			}
			if !handler(d, completed, total) {
				break
			}
		}
		return tx.Commit()
	})
}

// EvaluateThresholds checks the activity's threshold groups for one day
// and returns the first triggered threshold of each group, in configured
// order. Adherence thresholds compare the day's completed count; numeric
// thresholds compare the parsed result of the group's event slot and are
// skipped when that slot has no numeric result yet. Days the schedule
// prescribes no events on trigger nothing.
func (s *Store) EvaluateThresholds(ctx context.Context, identifier string, date domain.Date) ([]domain.Threshold, error) {
	var out []domain.Threshold
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
		if len(a.Thresholds) == 0 || a.Schedule.NumberOfEventsOnDate(date) == 0 {
			return tx.Commit()
		}
		day := a.Schedule.DaysSinceStart(date)
		completed, err := s.Repo.CompletedCountTx(ctx, tx, a.Identifier, day)
		if err != nil {
			return fmt.Errorf("completion for %s on %s: %w", a.Identifier, date, err)
		}
		rows, err := s.Repo.EventsForDayTx(ctx, tx, a.Identifier, day)
		if err != nil {
			return fmt.Errorf("events for %s day %d: %w", a.Identifier, day, err)
		}
		resultBySlot := make(map[int]float64)
		for _, row := range rows {
			if row.Result == nil {
				continue
			}
			if v, err := strconv.ParseFloat(row.Result.ValueString, 64); err == nil {
				resultBySlot[row.OccurrenceIndex] = v
			}
		}
		var triggered []domain.Threshold
		for slot, group := range a.Thresholds {
			for _, t := range group {
				candidate := float64(completed)
				if t.Type != domain.ThresholdAdherence {
					v, has := resultBySlot[slot]
					if !has {
						continue
					}
					candidate = v
				}
				if t.Evaluate(candidate) {
					triggered = append(triggered, t)
					break
				}
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = triggered
		return nil
	})
	return out, err
}
