package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	openrouterx "github.com/tanpawarit/chative-crm-agent/pkg/openrouter"
)

// Config selects the OpenRouter model that drives the agent loop.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"google/gemini-2.0-flash-001"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true" default:"Wilco Plumbing"`

	// AcceptsAudio forwards inline audio to the model. Leave off for models
	// without audio input; audio is then transcribed first.
	AcceptsAudio       bool   `envconfig:"ACCEPTS_AUDIO" split_words:"true" default:"false"`
	TranscriptionModel string `envconfig:"TRANSCRIPTION_MODEL" split_words:"true" default:"whisper-1"`
	TranscriptionURL   string `envconfig:"TRANSCRIPTION_URL" split_words:"true"`
	TranscriptionKey   string `envconfig:"TRANSCRIPTION_KEY" split_words:"true"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouter() openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// Transcription returns the client config for the transcription endpoint. It
// falls back to the chat endpoint credentials.
func (c Config) Transcription() openrouterx.Config {
	cfg := c.OpenRouter()
	if v := strings.TrimSpace(c.TranscriptionURL); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(c.TranscriptionKey); v != "" {
		cfg.APIKey = v
	}
	cfg.Model = strings.TrimSpace(c.TranscriptionModel)
	return cfg
}

// GeminiConfig drives the native Gemini engine, which accepts audio directly.
type GeminiConfig struct {
	APIKey          string        `envconfig:"API_KEY" split_words:"true"`
	Model           string        `envconfig:"MODEL" split_words:"true" default:"gemini-2.0-flash"`
	Temperature     float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	MaxOutputTokens int32         `envconfig:"MAX_OUTPUT_TOKENS" split_words:"true" default:"2000"`
	Timeout         time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
}

func (c GeminiConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: gemini api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: gemini model is required", contractx.ErrValidation)
	}
	return nil
}
