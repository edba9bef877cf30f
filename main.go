package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/chative-crm-agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	llmx "github.com/tanpawarit/chative-crm-agent/agent/llm"
	promptx "github.com/tanpawarit/chative-crm-agent/agent/prompt"
	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
	statex "github.com/tanpawarit/chative-crm-agent/agent/state"
	storex "github.com/tanpawarit/chative-crm-agent/agent/store"
	toolx "github.com/tanpawarit/chative-crm-agent/agent/tool"
	transportx "github.com/tanpawarit/chative-crm-agent/agent/transport"
	configx "github.com/tanpawarit/chative-crm-agent/pkg/config"
	"github.com/tanpawarit/chative-crm-agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/chative-crm-agent/pkg/openrouter"
	qstashx "github.com/tanpawarit/chative-crm-agent/pkg/qstash"
)

type AppConfig struct {
	BusinessName   string        `envconfig:"BUSINESS_NAME" default:"Wilco Plumbing"`
	Engine         string        `envconfig:"ENGINE" default:"openrouter"`
	Store          string        `envconfig:"STORE" default:"badger"`
	MaxRounds      int           `envconfig:"MAX_ROUNDS" default:"6"`
	HistoryLimit   int           `envconfig:"HISTORY_LIMIT" default:"10"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"120s"`
}

var seedFlag = flag.Bool("seed", false, "write the demo dataset into empty collections")

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("crm agent stopped")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("APP")
	// The first config load exported .env; LOG_* set there apply from here on.
	autoload.Reload()
	ctx = log.Logger.WithContext(ctx)

	store, err := openStore(ctx, appCfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	repo, err := recordx.NewRepository(store)
	if err != nil {
		return err
	}
	if *seedFlag {
		if err := recordx.Seed(ctx, repo); err != nil {
			return fmt.Errorf("seed records: %w", err)
		}
	}

	var catalogOpts []toolx.Option
	if qstashCfg, ok := configx.Optional[qstashx.Config]("QSTASH"); ok {
		catalogOpts = append(catalogOpts, toolx.WithPublisher(qstashx.MustNew(*qstashCfg)))
		log.Info().Msg("qstash event publishing enabled")
	}
	catalog, err := toolx.NewCatalog(repo, catalogOpts...)
	if err != nil {
		return err
	}

	engine, transcriber, err := openEngine(ctx, appCfg.Engine)
	if err != nil {
		return err
	}

	builder, err := promptx.NewBuilder(repo, promptx.Config{
		BusinessName: appCfg.BusinessName,
		HistoryLimit: appCfg.HistoryLimit,
		AcceptsMedia: acceptsMedia(engine),
		Transcriber:  transcriber,
	})
	if err != nil {
		return err
	}

	var transcripts contractx.TranscriptStore
	if redisCfg, ok := configx.Optional[statex.UpstashRedisConfig]("UPSTASH_REDIS"); ok {
		s, err := statex.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			return err
		}
		transcripts = s
		log.Info().Msg("upstash transcript store enabled")
	}

	svc, err := orchestratorx.New(engine, catalog, builder, transcripts, orchestratorx.Config{
		MaxRounds: appCfg.MaxRounds,
		Timeout:   appCfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	serverCfg := configx.MustNew[transportx.ServerConfig]("HTTP")
	return transportx.Serve(ctx, *serverCfg, transportx.NewHandler(svc))
}

func openStore(ctx context.Context, kind string) (storex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "badger":
		cfg := configx.MustNew[storex.BadgerConfig]("BADGER")
		return storex.NewBadger(*cfg)
	case "postgres":
		cfg := configx.MustNew[storex.PostgresConfig]("POSTGRES")
		pg, err := storex.NewPostgres(*cfg)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// openEngine returns the inference engine and, when the engine cannot take
// audio, a transcriber for voice notes.
func openEngine(ctx context.Context, kind string) (contractx.Engine, contractx.Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "openrouter":
		cfg := configx.MustNew[llmx.Config]("OPENROUTER")
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		orCfg := cfg.OpenRouter()
		chatModel, err := orCfg.New(ctx)
		if err != nil {
			return nil, nil, err
		}
		engine, err := llmx.NewEinoEngine(chatModel, llmx.WithMedia(cfg.AcceptsAudio))
		if err != nil {
			return nil, nil, err
		}
		if cfg.AcceptsAudio {
			return engine, nil, nil
		}
		client := openrouterx.NewClient(cfg.Transcription())
		if client == nil {
			return engine, nil, nil
		}
		transcriber, err := llmx.NewTranscriber(client, cfg.TranscriptionModel)
		if err != nil {
			return nil, nil, err
		}
		return engine, transcriber, nil
	case "gemini":
		cfg := configx.MustNew[llmx.GeminiConfig]("GEMINI")
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		engine, err := llmx.NewGeminiEngine(ctx, *cfg)
		if err != nil {
			return nil, nil, err
		}
		return engine, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine kind %q", kind)
	}
}

func acceptsMedia(engine contractx.Engine) bool {
	m, ok := engine.(contractx.MediaCapable)
	return ok && m.AcceptsMedia()
}
