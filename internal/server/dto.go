package server

import (
	"fmt"

	"careline/internal/domain"
)

type ScheduleRequest struct {
	Type        string `json:"type" enum:"daily,weekly,monthly"`
	Start       string `json:"start" example:"2026-01-05"`
	End         string `json:"end,omitempty" example:"2026-06-01"`
	Occurrences []int  `json:"occurrences"`
	Skip        int    `json:"skip,omitempty"`
}

func (r ScheduleRequest) toDomain() (domain.Schedule, error) {
	start, err := domain.ParseDate(r.Start)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("start: %w", err)
	}
	var end *domain.Date
	if r.End != "" {
		d, err := domain.ParseDate(r.End)
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("end: %w", err)
		}
		end = &d
	}
	switch r.Type {
	case "daily":
		per := 1
		if len(r.Occurrences) > 0 {
			per = r.Occurrences[0]
		}
		return domain.DailySchedule(start, per, r.Skip, end)
	case "weekly":
		return domain.WeeklySchedule(start, r.Occurrences, r.Skip, end)
	case "monthly":
		return domain.MonthlySchedule(start, r.Occurrences, r.Skip, end)
	default:
		return domain.Schedule{}, fmt.Errorf("schedule type %q: %w", r.Type, domain.ErrInvalidArgument)
	}
}

type CreateActivityRequest struct {
	Identifier       string               `json:"identifier" example:"medication.ibuprofen"`
	Group            string               `json:"group,omitempty"`
	Type             string               `json:"type" enum:"intervention,assessment,readonly"`
	Title            string               `json:"title"`
	Text             string               `json:"text,omitempty"`
	TintColor        string               `json:"tint_color,omitempty"`
	Instructions     string               `json:"instructions,omitempty"`
	Optional         bool                 `json:"optional,omitempty"`
	ResultResettable bool                 `json:"result_resettable,omitempty"`
	Schedule         ScheduleRequest      `json:"schedule"`
	Thresholds       [][]domain.Threshold `json:"thresholds,omitempty"`
	UserInfo         map[string]string    `json:"user_info,omitempty"`
}

func (r CreateActivityRequest) toDomain() (domain.Activity, error) {
	schedule, err := r.Schedule.toDomain()
	if err != nil {
		return domain.Activity{}, err
	}
	a := domain.Activity{
		Identifier:       r.Identifier,
		GroupIdentifier:  r.Group,
		Type:             domain.ActivityType(r.Type),
		Title:            r.Title,
		Text:             r.Text,
		TintColor:        r.TintColor,
		Instructions:     r.Instructions,
		Schedule:         schedule,
		ResultResettable: r.ResultResettable,
		Optional:         r.Optional,
		Thresholds:       r.Thresholds,
		UserInfo:         r.UserInfo,
	}
	return a, a.Validate()
}

type SetEndDateRequest struct {
	EndDate string `json:"end_date" example:"2026-06-01"`
}

type UpdateEventRequest struct {
	State  string              `json:"state" enum:"initial,not_completed,completed"`
	Result *domain.EventResult `json:"result,omitempty"`
}

type DayStatusResponse struct {
	Date      string `json:"date"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

type DevLoginRequest struct {
	Subject string `json:"subject" example:"companion-app"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}
