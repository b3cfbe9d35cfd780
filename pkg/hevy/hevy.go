package hevy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultPageSize = 50

type Config struct {
	URL      string        `split_words:"true" default:"https://api.hevyapp.com"`
	APIKey   string        `split_words:"true" required:"true"`
	Timeout  time.Duration `split_words:"true" default:"15s"`
	PageSize int           `split_words:"true" default:"50"`
}

// Client is a read-only Hevy API client. All write endpoints are out of
// scope: the coach observes training data, it never edits it.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("hevy url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("hevy api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	client := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type Set struct {
	Type            string   `json:"type"`
	WeightKg        *float64 `json:"weight_kg"`
	Reps            *float64 `json:"reps"`
	DistanceMeters  *float64 `json:"distance_meters"`
	DurationSeconds *float64 `json:"duration_seconds"`
	RPE             *float64 `json:"rpe"`
	CustomMetric    *float64 `json:"custom_metric"`
}

type Exercise struct {
	Title              string `json:"title"`
	ExerciseTemplateID string `json:"exercise_template_id"`
	Notes              string `json:"notes"`
	Sets               []Set  `json:"sets"`
}

type Workout struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartTime   string     `json:"start_time"`
	EndTime     string     `json:"end_time"`
	Exercises   []Exercise `json:"exercises"`
}

type workoutsPage struct {
	Workouts  []Workout `json:"workouts"`
	PageCount int       `json:"page_count"`
}

// HistoryRow is one set of one exercise as returned by the exercise
// history endpoint.
type HistoryRow struct {
	WorkoutID        string   `json:"workout_id"`
	WorkoutStartTime string   `json:"workout_start_time"`
	WeightKg         *float64 `json:"weight_kg"`
	Reps             *float64 `json:"reps"`
	DistanceMeters   *float64 `json:"distance_meters"`
	DurationSeconds  *float64 `json:"duration_seconds"`
}

type historyPayload struct {
	ExerciseHistory []HistoryRow `json:"exercise_history"`
}

// FetchWorkoutsRange pages through /v1/workouts for an inclusive window.
func (c *Client) FetchWorkoutsRange(ctx context.Context, start, end time.Time) ([]Workout, error) {
	var workouts []Workout
	page := 1

	for {
		query := url.Values{}
		query.Set("start_date", start.UTC().Format("2006-01-02T15:04:05Z"))
		query.Set("end_date", end.UTC().Format("2006-01-02T15:04:05Z"))
		query.Set("page_size", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))

		var data workoutsPage
		if err := c.get(ctx, "/v1/workouts?"+query.Encode(), &data); err != nil {
			return nil, err
		}

		workouts = append(workouts, data.Workouts...)
		if page >= data.PageCount || len(data.Workouts) == 0 {
			break
		}
		page++
	}

	return workouts, nil
}

func (c *Client) FetchWorkoutByID(ctx context.Context, workoutID string) (*Workout, error) {
	var workout Workout
	if err := c.get(ctx, "/v1/workouts/"+url.PathEscape(workoutID), &workout); err != nil {
		return nil, err
	}
	return &workout, nil
}

// FetchExerciseHistoryRange fetches per-set history rows for one exercise
// template within a window.
func (c *Client) FetchExerciseHistoryRange(ctx context.Context, exerciseID string, start, end time.Time) ([]HistoryRow, error) {
	query := url.Values{}
	query.Set("start_date", start.UTC().Format("2006-01-02T15:04:05Z"))
	query.Set("end_date", end.UTC().Format("2006-01-02T15:04:05Z"))

	var data historyPayload
	path := "/v1/exercise_history/" + url.PathEscape(exerciseID) + "?" + query.Encode()
	if err := c.get(ctx, path, &data); err != nil {
		return nil, err
	}
	return data.ExerciseHistory, nil
}

// RecentWorkouts fetches the last N days of workouts formatted for model
// consumption.
func (c *Client) RecentWorkouts(ctx context.Context, days int) (string, error) {
	end := c.now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	workouts, err := c.FetchWorkoutsRange(ctx, start, end)
	if err != nil {
		return "", err
	}
	return FormatWorkouts(workouts), nil
}

// ExerciseFrequency summarizes how often each exercise appears over the
// last N days, sorted by session count.
func (c *Client) ExerciseFrequency(ctx context.Context, days int) (string, error) {
	end := c.now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	workouts, err := c.FetchWorkoutsRange(ctx, start, end)
	if err != nil {
		return "", err
	}
	return FormatExerciseFrequency(workouts, start, end), nil
}

// ExerciseTrend renders a per-session trend summary for one exercise over
// the last N days. Workout payloads are fetched only for workouts that
// appear in the history rows; a missing workout is skipped, not fatal.
func (c *Client) ExerciseTrend(ctx context.Context, exerciseID string, days int) (string, error) {
	end := c.now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	history, err := c.FetchExerciseHistoryRange(ctx, exerciseID, start, end)
	if err != nil {
		return "", err
	}

	seen := make(map[string]struct{}, len(history))
	var workouts []Workout
	for _, row := range history {
		if row.WorkoutID == "" {
			continue
		}
		if _, ok := seen[row.WorkoutID]; ok {
			continue
		}
		seen[row.WorkoutID] = struct{}{}

		workout, err := c.FetchWorkoutByID(ctx, row.WorkoutID)
		if err != nil {
			continue
		}
		workouts = append(workouts, *workout)
	}

	return FormatExerciseTrend(history, workouts, exerciseID, start, end), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hevy request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hevy api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.Unmarshal(body, out)
}
