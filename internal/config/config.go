package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"careline/internal/domain"
)

// Plan models careplan.yml: plan metadata, patient display info, webhook
// targets, and the activity definitions to seed the store with.
type Plan struct {
	Plan struct {
		ID    string `yaml:"id" json:"id"`
		Title string `yaml:"title" json:"title"`
	} `yaml:"plan" json:"plan"`
	Patient struct {
		DisplayName string `yaml:"display_name" json:"display_name"`
		TintColor   string `yaml:"tint_color" json:"tint_color"`
	} `yaml:"patient" json:"patient"`
	Webhooks   []WebhookConfig  `yaml:"webhooks" json:"webhooks"`
	Activities []ActivityConfig `yaml:"activities" json:"activities"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url" json:"url"`
	Secret  string   `yaml:"secret" json:"secret"`
	Events  []string `yaml:"events" json:"events"`
	Enabled *bool    `yaml:"enabled" json:"enabled"`
}

type ActivityConfig struct {
	Identifier       string              `yaml:"identifier" json:"identifier"`
	Group            string              `yaml:"group" json:"group"`
	Type             string              `yaml:"type" json:"type"`
	Title            string              `yaml:"title" json:"title"`
	Text             string              `yaml:"text" json:"text"`
	TintColor        string              `yaml:"tint_color" json:"tint_color"`
	Instructions     string              `yaml:"instructions" json:"instructions"`
	Optional         bool                `yaml:"optional" json:"optional"`
	ResultResettable bool                `yaml:"result_resettable" json:"result_resettable"`
	Schedule         ScheduleConfig      `yaml:"schedule" json:"schedule"`
	Thresholds       [][]ThresholdConfig `yaml:"thresholds" json:"thresholds"`
	UserInfo         map[string]string   `yaml:"user_info" json:"user_info"`
}

type ScheduleConfig struct {
	Type        string `yaml:"type" json:"type"`
	Start       string `yaml:"start" json:"start"`
	End         string `yaml:"end" json:"end"`
	Occurrences []int  `yaml:"occurrences" json:"occurrences"`
	Skip        int    `yaml:"skip" json:"skip"`
}

type ThresholdConfig struct {
	Type       string  `yaml:"type" json:"type"`
	Value      float64 `yaml:"value" json:"value"`
	UpperValue float64 `yaml:"upper_value" json:"upper_value"`
	Title      string  `yaml:"title" json:"title"`
}

// Validate ensures the plan meets required structure. Activity-level
// detail is checked by the domain constructors during conversion.
func (p *Plan) Validate() error {
	if p.Plan.ID == "" {
		return fmt.Errorf("plan.id is required")
	}
	if len(p.Activities) == 0 {
		return fmt.Errorf("plan defines no activities")
	}
	seen := make(map[string]bool, len(p.Activities))
	for i, a := range p.Activities {
		if a.Identifier == "" {
			return fmt.Errorf("activities[%d].identifier is required", i)
		}
		if seen[a.Identifier] {
			return fmt.Errorf("duplicate activity identifier %s", a.Identifier)
		}
		seen[a.Identifier] = true
	}
	for i, hook := range p.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// DomainActivities converts the plan's activity definitions into validated
// domain activities, in the order the plan lists them.
func (p *Plan) DomainActivities() ([]domain.Activity, error) {
	res := make([]domain.Activity, 0, len(p.Activities))
	for _, ac := range p.Activities {
		a, err := ac.domain()
		if err != nil {
			return nil, fmt.Errorf("activity %s: %w", ac.Identifier, err)
		}
		res = append(res, a)
	}
	return res, nil
}

func (ac ActivityConfig) domain() (domain.Activity, error) {
	schedule, err := ac.Schedule.domain()
	if err != nil {
		return domain.Activity{}, err
	}
	thresholds := make([][]domain.Threshold, 0, len(ac.Thresholds))
	for _, group := range ac.Thresholds {
		g := make([]domain.Threshold, 0, len(group))
		for _, tc := range group {
			g = append(g, domain.Threshold{
				Type:       domain.ThresholdType(tc.Type),
				Value:      tc.Value,
				UpperValue: tc.UpperValue,
				Title:      tc.Title,
			})
		}
		thresholds = append(thresholds, g)
	}
	a := domain.Activity{
		Identifier:       ac.Identifier,
		GroupIdentifier:  ac.Group,
		Type:             domain.ActivityType(ac.Type),
		Title:            ac.Title,
		Text:             ac.Text,
		TintColor:        ac.TintColor,
		Instructions:     ac.Instructions,
		Schedule:         schedule,
		ResultResettable: ac.ResultResettable,
		Optional:         ac.Optional,
		UserInfo:         ac.UserInfo,
	}
	if len(thresholds) > 0 {
		a.Thresholds = thresholds
	}
	return a, a.Validate()
}

func (sc ScheduleConfig) domain() (domain.Schedule, error) {
	start, err := domain.ParseDate(sc.Start)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule start: %w", err)
	}
	var end *domain.Date
	if sc.End != "" {
		d, err := domain.ParseDate(sc.End)
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("schedule end: %w", err)
		}
		end = &d
	}
	switch sc.Type {
	case "daily":
		per := 1
		if len(sc.Occurrences) > 0 {
			per = sc.Occurrences[0]
		}
		return domain.DailySchedule(start, per, sc.Skip, end)
	case "weekly":
		return domain.WeeklySchedule(start, sc.Occurrences, sc.Skip, end)
	case "monthly":
		return domain.MonthlySchedule(start, sc.Occurrences, sc.Skip, end)
	default:
		return domain.Schedule{}, fmt.Errorf("schedule type %q: %w", sc.Type, domain.ErrInvalidArgument)
	}
}

// Path returns the plan file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "careplan.yml")
}

// FromYAML parses and validates a plan from raw YAML bytes.
func FromYAML(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid plan yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FromFile reads a YAML plan from the given path.
func FromFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns a sample plan YAML document.
func GenerateDefault(planID string) string {
	return fmt.Sprintf(defaultTemplate, planID)
}

// Default returns the parsed sample plan.
func Default(planID string) *Plan {
	p, err := FromYAML([]byte(GenerateDefault(planID)))
	if err != nil {
		panic(fmt.Sprintf("default plan template invalid: %v", err))
	}
	return p
}

const defaultTemplate = `plan:
  id: %s
  title: Post-surgery recovery

patient:
  display_name: Sample Patient
  tint_color: "#2E86DE"

activities:
  - identifier: medication.ibuprofen
    group: medication
    type: intervention
    title: Ibuprofen
    text: 200mg with food
    schedule:
      type: daily
      start: 2026-01-05
      occurrences: [3]

  - identifier: exercise.knee-stretch
    group: exercise
    type: intervention
    title: Knee stretches
    text: Hold each stretch for 30 seconds
    instructions: Sit upright, extend the leg, hold, release. Repeat five times.
    schedule:
      type: weekly
      start: 2026-01-05
      occurrences: [0, 1, 0, 1, 0, 1, 0]

  - identifier: assessment.pain
    group: assessment
    type: assessment
    title: Pain level
    text: Rate your pain from 1 to 10
    result_resettable: true
    schedule:
      type: daily
      start: 2026-01-05
      occurrences: [1]
    thresholds:
      - - type: greater_than_or_equal
          value: 8
          title: Severe pain reported

  - identifier: info.wound-care
    type: readonly
    title: Wound care
    text: Keep the incision clean and dry
    optional: true
    schedule:
      type: daily
      start: 2026-01-05
      occurrences: [1]
`
