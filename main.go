package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pwachirah/stride-coach/agent/agents/coach"
	routerx "github.com/pwachirah/stride-coach/agent/agents/router"
	cadencex "github.com/pwachirah/stride-coach/agent/cadence"
	contractx "github.com/pwachirah/stride-coach/agent/contract"
	"github.com/pwachirah/stride-coach/agent/docstore"
	llmx "github.com/pwachirah/stride-coach/agent/llm"
	registryx "github.com/pwachirah/stride-coach/agent/registry"
	toolx "github.com/pwachirah/stride-coach/agent/tool"
	configx "github.com/pwachirah/stride-coach/pkg/config"
	hevyx "github.com/pwachirah/stride-coach/pkg/hevy"
	_ "github.com/pwachirah/stride-coach/pkg/logger/autoload"
	slackx "github.com/pwachirah/stride-coach/pkg/slack"
)

type AppConfig struct {
	ListenAddr   string        `envconfig:"LISTEN_ADDR" default:":8080"`
	SlackChannel string        `envconfig:"SLACK_CHANNEL" required:"true"`
	TickInterval time.Duration `envconfig:"CADENCE_TICK_INTERVAL" default:"1m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")

	docs := newDocumentStore(ctx)
	threads := newThreadRegistry()

	hevyClient := hevyx.MustNew(*configx.MustNew[hevyx.Config]("HEVY"))
	slackClient := slackx.MustNew(*configx.MustNew[slackx.Config]("SLACK"))

	gateway, err := toolx.NewGateway(toolx.Catalog(hevyClient, docs))
	if err != nil {
		log.Fatal().Err(err).Msg("initialize tool gateway")
	}

	models, err := coach.NewRegistry(ctx, *llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize agent registry")
	}

	sched, err := cadencex.New(docs)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize cadence scheduler")
	}
	if err := sched.Rebuild(ctx); err != nil {
		log.Fatal().Err(err).Msg("rebuild cadence state")
	}

	runner, err := cadencex.NewRunner(models, gateway, docs)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize cadence runner")
	}

	rt, err := routerx.New(threads, models, gateway, docs,
		routerx.WithForcedRegenerator(sched),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize router")
	}

	go runCadenceLoop(ctx, appCfg, sched, runner, slackClient)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", handleEvents(rt, slackClient, appCfg.SlackChannel))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    appCfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", appCfg.ListenAddr).Msg("stride coach listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// newDocumentStore prefers Postgres and falls back to the in-memory store
// when no DSN is configured, so local runs need no database.
func newDocumentStore(ctx context.Context) contractx.DocumentStore {
	goalsRule := docstore.MidPeriodRule{
		Period: cadencex.DefaultGoalsPeriod,
		Diff:   coach.GoalsScopeReduced,
	}

	cfg, err := configx.New[docstore.Config]("DOCSTORE")
	if err != nil {
		log.Warn().Err(err).Msg("docstore config missing, using in-memory store")
		return docstore.NewMemory(docstore.MemoryWithMidPeriodRule(contractx.DocTypeWeeklyGoals, goalsRule))
	}

	store, err := docstore.New(*cfg, docstore.WithMidPeriodRule(contractx.DocTypeWeeklyGoals, goalsRule))
	if err != nil {
		log.Fatal().Err(err).Msg("initialize document store")
	}
	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate document store")
	}
	return store
}

// newThreadRegistry prefers Upstash Redis and falls back to the in-memory
// registry when no credentials are configured.
func newThreadRegistry() contractx.ThreadRegistry {
	cfg, err := configx.New[registryx.Config]("UPSTASH")
	if err != nil {
		log.Warn().Err(err).Msg("upstash config missing, using in-memory registry")
		return registryx.NewMemory()
	}

	reg, err := registryx.NewUpstash(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize thread registry")
	}
	return reg
}

// runCadenceLoop drives scheduled and forced document regeneration. Each due
// request runs in its own goroutine; the scheduler coalesces overlapping
// signals per doc type.
func runCadenceLoop(
	ctx context.Context,
	appCfg *AppConfig,
	sched *cadencex.Scheduler,
	runner *cadencex.Runner,
	slackClient *slackx.Client,
) {
	ticker := time.NewTicker(appCfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reqs, err := sched.Tick(ctx, now)
			if err != nil {
				log.Warn().Err(err).Msg("cadence tick")
				continue
			}
			for _, req := range reqs {
				go func(req cadencex.RegenRequest) {
					if err := sched.Execute(ctx, req, runner.Regenerate); err != nil {
						log.Warn().Err(err).
							Str("doc_type", string(req.DocType)).
							Bool("forced", req.Forced).
							Msg("regeneration failed")
						return
					}
					log.Info().
						Str("doc_type", string(req.DocType)).
						Bool("forced", req.Forced).
						Msg("document regenerated")
					note := "Updated the weekly goals."
					if req.DocType == contractx.DocTypeCoach {
						note = "Refreshed the long-term coaching model."
					}
					if _, err := slackClient.PostMessage(ctx, appCfg.SlackChannel, "", note); err != nil {
						log.Warn().Err(err).Msg("post regeneration notice")
					}
				}(req)
			}
		}
	}
}

func handleEvents(rt *routerx.Router, slackClient *slackx.Client, channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event contractx.InboundEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}

		result, err := rt.HandleEvent(r.Context(), event)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, contractx.ErrUnroutableEvent),
				errors.Is(err, contractx.ErrValidation):
				status = http.StatusUnprocessableEntity
			case errors.Is(err, contractx.ErrToolNotPermitted),
				errors.Is(err, contractx.ErrImmutableField):
				status = http.StatusForbidden
			case errors.Is(err, contractx.ErrVersionConflict):
				status = http.StatusConflict
			}
			log.Warn().Err(err).Str("thread_id", event.ThreadID).Msg("event rejected")
			http.Error(w, err.Error(), status)
			return
		}

		if result.Reply != "" {
			if _, err := slackClient.PostMessage(r.Context(), channel, event.ThreadID, result.Reply); err != nil {
				log.Warn().Err(err).Str("thread_id", event.ThreadID).Msg("post reply")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"agent_type": result.AgentType,
			"phase":      result.Phase,
			"reply":      result.Reply,
		}); err != nil {
			log.Warn().Err(err).Msg("encode response")
		}
	}
}
