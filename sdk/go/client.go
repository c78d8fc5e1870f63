// Package carelinesdk is a minimal client for the Careline HTTP API,
// intended for companion apps that mirror a patient's care plan.
package carelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Careline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Schedule mirrors the API schedule model.
type Schedule struct {
	Type        string `json:"type"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
	Occurrences []int  `json:"occurrences"`
	Skip        int    `json:"periods_to_skip,omitempty"`
}

// Activity mirrors the API activity model (partial).
type Activity struct {
	Identifier      string   `json:"identifier"`
	GroupIdentifier string   `json:"group_identifier,omitempty"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Text            string   `json:"text,omitempty"`
	Optional        bool     `json:"optional,omitempty"`
	Schedule        Schedule `json:"schedule"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

// EventResult is a reported result for a completed event.
type EventResult struct {
	CreationDate string            `json:"creation_date,omitempty"`
	Value        string            `json:"value"`
	Unit         string            `json:"unit,omitempty"`
	UserInfo     map[string]string `json:"user_info,omitempty"`
}

// Event is one occurrence of an activity on a day.
type Event struct {
	DaysSinceStart  int          `json:"days_since_start"`
	OccurrenceIndex int          `json:"occurrence_index"`
	Date            string       `json:"date"`
	State           string       `json:"state"`
	Result          *EventResult `json:"result,omitempty"`
	Activity        Activity     `json:"activity"`
}

// DayStatus is one day of the adherence report.
type DayStatus struct {
	Date      string `json:"date"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Threshold is a triggered threshold.
type Threshold struct {
	Type       string  `json:"type"`
	Value      float64 `json:"value"`
	UpperValue float64 `json:"upper_value,omitempty"`
	Title      string  `json:"title,omitempty"`
}

// Change is a change feed row.
type Change struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ActivityID string `json:"activity_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Activities lists activities, optionally filtered by type.
func (c *Client) Activities(ctx context.Context, activityType string) ([]Activity, error) {
	endpoint := "v0/activities"
	if activityType != "" {
		endpoint += "?type=" + url.QueryEscape(activityType)
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Activity fetches one activity.
func (c *Client) Activity(ctx context.Context, identifier string) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodGet, "v0/activities/"+url.PathEscape(identifier), nil, &resp)
	return resp, err
}

// EventsOnDate returns the day's events grouped by activity.
func (c *Client) EventsOnDate(ctx context.Context, date string) ([][]Event, error) {
	var resp [][]Event
	err := c.do(ctx, http.MethodGet, "v0/events?date="+url.QueryEscape(date), nil, &resp)
	return resp, err
}

// UpdateEvent sets an event's state and optional result.
func (c *Client) UpdateEvent(ctx context.Context, identifier, date string, occurrence int, state string, result *EventResult) (Event, error) {
	body := map[string]any{"state": state}
	if result != nil {
		body["result"] = result
	}
	var resp Event
	endpoint := fmt.Sprintf("v0/activities/%s/events/%s/%d", url.PathEscape(identifier), url.PathEscape(date), occurrence)
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// Adherence returns the daily completion status over a date range.
func (c *Client) Adherence(ctx context.Context, from, to string) ([]DayStatus, error) {
	var resp []DayStatus
	endpoint := fmt.Sprintf("v0/adherence?from=%s&to=%s", url.QueryEscape(from), url.QueryEscape(to))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Thresholds evaluates an activity's thresholds for a day.
func (c *Client) Thresholds(ctx context.Context, identifier, date string) ([]Threshold, error) {
	var resp []Threshold
	endpoint := fmt.Sprintf("v0/activities/%s/thresholds?date=%s", url.PathEscape(identifier), url.QueryEscape(date))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Changes returns feed rows after a cursor.
func (c *Client) Changes(ctx context.Context, after int64, limit int) ([]Change, error) {
	var resp []Change
	endpoint := fmt.Sprintf("v0/changes?after=%d&limit=%d", after, limit)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
