package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/api"
	"sipbridge/relay/internal/bridge"
	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/feed"
	"sipbridge/relay/internal/health"
	"sipbridge/relay/internal/opentok"
	"sipbridge/relay/internal/store"
	"sipbridge/relay/internal/tunnel"
	"sipbridge/relay/internal/vonage"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	setupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("SERVER_MODE"))
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hc := &http.Client{Timeout: cfg.Server.HTTPTimeout}
	publicURL, err := tunnel.Resolve(ctx, hc, cfg.Server.PublicURL, cfg.Server.TunnelAPI)
	if err != nil {
		log.Warn().Str("module", "main").Err(err).Msg("no public url, webhooks will not reach this relay")
	}
	cfg.Server.PublicURL = publicURL

	privateKey := loadPrivateKey(cfg.Voice.PrivateKeyPath)
	video := opentok.NewClient(cfg.Video.APIKey, cfg.Video.APISecret, cfg.Video.BaseURL, cfg.Server.HTTPTimeout, cfg.Video.TokenTTL)
	voice := vonage.NewClient(vonage.Credentials{
		APIKey:     cfg.Voice.APIKey,
		APISecret:  cfg.Voice.APISecret,
		AppID:      cfg.Voice.AppID,
		PrivateKey: privateKey,
	}, cfg.Voice.APIBaseURL, cfg.Voice.RestBaseURL, cfg.Server.HTTPTimeout)

	st := store.New(store.WithSnapshotCapacity(cfg.Server.SnapshotCacheSize))
	svc := bridge.New(st, video, voice, cfg)

	if cfg.Server.UpdateWebhooks && publicURL != "" {
		err := voice.UpdateApplicationWebhooks(ctx, vonage.Application{
			ID:        cfg.Voice.AppID,
			Name:      cfg.Voice.AppName,
			AnswerURL: cfg.AnswerURL(),
			EventURL:  cfg.EventURL(),
		})
		if err != nil {
			log.Error().Str("module", "main").Err(err).Msg("application webhook update failed")
		} else {
			log.Info().Str("module", "main").Str("answer_url", cfg.AnswerURL()).Msg("application webhooks updated")
		}
	}

	ready := func(ctx context.Context) health.HealthStatus { return health.CheckAll(ctx, cfg, hc) }
	fs := feed.NewServer(cfg, st, feed.NewRegistry())
	router := api.NewRouter(cfg.Server.Mode, api.NewHandlers(svc, ready), fs)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Str("public_url", publicURL).Msg("relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "main").Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Str("module", "main").Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Str("module", "main").Msg("server exited")
}

func setupLogger(level, mode string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
