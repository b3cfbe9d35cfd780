package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
	openrouterx "github.com/pwachirah/stride-coach/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1400"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	ExcludeReasoning   bool          `envconfig:"EXCLUDE_REASONING" split_words:"true" default:"false"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	SessionModel       string  `envconfig:"SESSION_MODEL" split_words:"true"`
	GoalsModel         string  `envconfig:"GOALS_MODEL" split_words:"true"`
	CoachModel         string  `envconfig:"COACH_MODEL" split_words:"true"`
	DriftModel         string  `envconfig:"DRIFT_MODEL" split_words:"true"`
	SessionTemperature float32 `envconfig:"SESSION_TEMPERATURE" split_words:"true" default:"-1"`
	GoalsTemperature   float32 `envconfig:"GOALS_TEMPERATURE" split_words:"true" default:"-1"`
	CoachTemperature   float32 `envconfig:"COACH_TEMPERATURE" split_words:"true" default:"-1"`
	DriftTemperature   float32 `envconfig:"DRIFT_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the model config for one agent type, applying
// per-agent model and temperature overrides on top of the defaults.
func (c Config) OpenRouterFor(agentType contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch agentType {
	case contractx.AgentTypeSession:
		if v := strings.TrimSpace(c.SessionModel); v != "" {
			modelName = v
		}
		if c.SessionTemperature >= 0 {
			temp = c.SessionTemperature
		}
	case contractx.AgentTypePeriodicGoals:
		if v := strings.TrimSpace(c.GoalsModel); v != "" {
			modelName = v
		}
		if c.GoalsTemperature >= 0 {
			temp = c.GoalsTemperature
		}
	case contractx.AgentTypeLongTermModel:
		if v := strings.TrimSpace(c.CoachModel); v != "" {
			modelName = v
		}
		if c.CoachTemperature >= 0 {
			temp = c.CoachTemperature
		}
	case contractx.AgentTypeDriftReview:
		if v := strings.TrimSpace(c.DriftModel); v != "" {
			modelName = v
		}
		if c.DriftTemperature >= 0 {
			temp = c.DriftTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		ExcludeReasoning:   c.ExcludeReasoning,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
