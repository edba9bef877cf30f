package logx

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Service      string `split_words:"true" default:"crm-agent"`
}

var DefaultConfig = &Config{
	Debug:        false,
	PrettyFormat: false,
	Service:      "crm-agent",
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

func Init(opts ...Config) {
	conf := safe(opts...)

	if conf.PrettyFormat {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if conf.Debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	logCtx := log.Logger.With().Caller().Stack()
	if conf.Service != "" {
		logCtx = logCtx.Str("service", conf.Service)
	}
	log.Logger = logCtx.Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// WithRequest returns ctx carrying a child of the global logger tagged with
// the request and session ids.
func WithRequest(ctx context.Context, requestID, sessionID string) context.Context {
	logCtx := log.Logger.With().Str("request_id", requestID)
	if sessionID != "" {
		logCtx = logCtx.Str("session_id", sessionID)
	}
	logger := logCtx.Logger()
	return logger.WithContext(ctx)
}
