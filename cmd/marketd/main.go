package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/lks90/transfermarket/internal/config"
	"github.com/lks90/transfermarket/internal/engine"
	"github.com/lks90/transfermarket/internal/feed"
	"github.com/lks90/transfermarket/internal/gateway"
	"github.com/lks90/transfermarket/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	teamID, err := uuid.Parse(os.Getenv("TEAM_ID"))
	if err != nil {
		log.Fatal().Err(err).Msg("TEAM_ID environment variable must be a UUID")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := config.DatabaseFromEnv()
	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	gw := store.NewPostgres(pool)

	changeFeed, err := buildFeed(cfg.Feed, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up change feed")
	}

	eng := engine.New(gw, changeFeed, teamID, engineConfig(cfg.Engine), clockwork.NewRealClock())

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	eng.Dispatcher().Register(cm)

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	go cm.Start(ctx)
	go cm.RunSnapshots(ctx, eng, time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := cm.UpgradeConnection(w, r); err != nil {
			http.Error(w, "upgrade failed", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    cfg.Gateway.Addr,
		Handler: cors.AllowAll().Handler(mux),
	}

	go func() {
		log.Info().Str("addr", cfg.Gateway.Addr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown failed")
	}
	if err := eng.Close(); err != nil {
		log.Error().Err(err).Msg("engine close failed")
	}
}

func engineConfig(cfg config.Engine) engine.Config {
	return engine.Config{
		ClockSyncInterval:       time.Duration(cfg.ClockSyncIntervalSec) * time.Second,
		AuctionPollInterval:     time.Duration(cfg.AuctionPollIntervalSec) * time.Second,
		ReservationPollInterval: time.Duration(cfg.ReservationPollIntervalSec) * time.Second,
		ExpiryCheckInterval:     time.Duration(cfg.ExpiryCheckIntervalMs) * time.Millisecond,
		FinalizeCooldown:        time.Duration(cfg.FinalizeCooldownSec) * time.Second,
		FinalizeTimeout:         time.Duration(cfg.FinalizeTimeoutSec) * time.Second,
	}
}

func buildFeed(cfg config.Feed, db config.Database) (feed.Feed, error) {
	switch cfg.Driver {
	case "nats":
		natsCfg := feed.DefaultNATSConfig()
		natsCfg.URL = config.NATSURL()
		if cfg.SubjectPrefix != "" {
			natsCfg.SubjectPrefix = cfg.SubjectPrefix
		}
		return feed.NewNATSFeed(natsCfg)
	default:
		listenCfg := feed.DefaultListenerConfig()
		listenCfg.DatabaseURL = db.DSN()
		if cfg.NotifyChannel != "" {
			listenCfg.NotifyChannel = cfg.NotifyChannel
		}
		return feed.NewListener(listenCfg)
	}
}
