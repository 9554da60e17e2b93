package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/crispai/crisp/internal/api"
	"github.com/crispai/crisp/internal/domain"
	"github.com/crispai/crisp/internal/event"
	"github.com/crispai/crisp/internal/oracle"
	"github.com/crispai/crisp/internal/registry"
	"github.com/crispai/crisp/internal/session"
	"github.com/crispai/crisp/internal/store"
	"github.com/crispai/crisp/internal/telemetry"
)

const (
	storeBackendRedis    = "redis"
	storeBackendPostgres = "postgres"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		State struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		State struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Store struct {
		// Backend is redis (default) or postgres.
		Backend string
	}

	AI struct {
		APIKey string
		Model  string
	}
}

// snapshot is the wholesale persisted state: exactly the candidate
// registry and the active sessions, nothing else.
type snapshot struct {
	Candidates map[string]domain.CandidateRecord `json:"candidates"`
	Sessions   map[string]session.State          `json:"sessions"`
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			state  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres *pgxpool.Pool

		store store.Store
	}

	service struct {
		registry *registry.Service
		session  *session.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	snap, err := s.loadState()
	if err != nil {
		return nil, fmt.Errorf("server: load state: %w", err)
	}

	s.initService(snap)
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch s.c.Store.Backend {
	case storeBackendPostgres:
		if err := s.initPostgres(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}

		st, err := store.NewPostgres(ctx, s.infra.postgres)
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		s.infra.store = st
	case storeBackendRedis, "":
		s.infra.store = store.NewRedis(s.infra.redis.state, s.c.Redis.State.Prefix)
	default:
		return fmt.Errorf("unknown store backend %q", s.c.Store.Backend)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.state, err = connect(s.c.Redis.State.Addrs, s.c.Redis.State.Pass)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres(ctx context.Context) error {
	p := s.c.Postgres.State

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) loadState() (snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var snap snapshot

	data, err := s.infra.store.Read(ctx)
	if stderrors.Is(err, store.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("unmarshal state: %w", err)
	}

	return snap, nil
}

func (s *Server) initService(snap snapshot) {
	orc := s.initOracle()

	s.service.registry = registry.NewService(registry.Config{
		EventBus: s.eb,
		OnChange: s.saveState,
		Records:  snap.Candidates,
	})

	s.service.session = session.NewService(session.Config{
		EventBus:   s.eb,
		Questions:  orc,
		Scorer:     orc,
		Summarizer: orc,
		OnChange:   s.saveState,
		Sessions:   snap.Sessions,
	})

	s.eb.Subscribe(domain.EventNameSessionCompleted, func(context.Context, event.Event) error {
		telemetry.InterviewsCompleted.Inc()
		return nil
	})
}

func (s *Server) initOracle() oracle.Oracle {
	var primary oracle.Oracle

	if s.c.AI.APIKey != "" {
		g, err := oracle.NewGemini(context.Background(), s.c.AI.APIKey, s.c.AI.Model)
		if err != nil {
			slog.Warn("server: gemini unavailable, running on deterministic oracles", "error", err)
		} else {
			primary = g
		}
	} else {
		slog.Warn("server: no AI API key configured, running on deterministic oracles")
	}

	return oracle.WithFallback(primary, oracle.NewDeterministic(nil), func(op string) {
		telemetry.OracleFallbacks.WithLabelValues(op).Inc()
	})
}

// saveState persists the whole registry + session snapshot. Errors are
// logged, not surfaced: a failed write must not break the interview.
func (s *Server) saveState(ctx context.Context) {
	snap := snapshot{
		Candidates: s.service.registry.Dump(),
		Sessions:   s.service.session.Dump(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		slog.ErrorContext(ctx, "server: marshal state failed", "error", err)
		return
	}

	if err := s.infra.store.Write(ctx, data); err != nil {
		slog.ErrorContext(ctx, "server: persist state failed", "error", err)
	}
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Registry:     s.service.registry,
		Session:      s.service.session,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.session.Stop()
	s.eb.Stop()
	s.saveState(ctx)

	slog.InfoContext(ctx, "server: shutdown completed")
}
