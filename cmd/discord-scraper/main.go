package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jgrazian/discord-scraper/internal/api"
	"github.com/jgrazian/discord-scraper/internal/config"
	"github.com/jgrazian/discord-scraper/internal/discord"
	"github.com/jgrazian/discord-scraper/internal/scraper"
	"github.com/jgrazian/discord-scraper/internal/store"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if cfg.ShowVersion {
		fmt.Println("discord-scraper " + version)
		return 0
	}

	// Initialize logger
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()

	// Interrupting mid-page loses at most the in-flight page; stored pages
	// stay valid because writes are upserts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.DBPath).Msg("opening database failed")
		return 1
	}
	defer db.Close()
	logger.Info().Str("path", cfg.DBPath).Msg("database open")

	// Optional progress endpoint for long scrapes
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      api.NewRouter(logger, version),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	runID := uuid.New().String()
	if err := db.RecordRun(ctx, runID, cfg.ChannelIDs); err != nil {
		logger.Error().Err(err).Msg("recording run failed")
		return 1
	}

	var opts []discord.Option
	if cfg.BaseURL != "" {
		opts = append(opts, discord.WithBaseURL(cfg.BaseURL))
	}
	client := discord.NewClient(cfg.AuthToken, opts...)

	log := logger.With().Str("run_id", runID).Logger()
	log.Info().Strs("channels", cfg.ChannelIDs).Msg("starting scrape")

	if err := scraper.New(client, db, log).Run(ctx, cfg.ChannelIDs); err != nil {
		log.Error().Err(err).Msg("scrape failed")
		return 1
	}

	if err := db.FinishRun(ctx, runID); err != nil {
		log.Error().Err(err).Msg("finishing run failed")
		return 1
	}

	for _, id := range cfg.ChannelIDs {
		if n, err := db.CountMessages(ctx, id); err == nil {
			log.Info().Str("channel", id).Int64("rows", n).Msg("stored")
		}
	}

	log.Info().Msg("scrape complete")
	return 0
}
