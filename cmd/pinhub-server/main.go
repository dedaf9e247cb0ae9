package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/server"
	"github.com/dkrasnov/pinhub/internal/store"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	dir, err := server.LoadDirectory(cfg.ProfilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load profiles")
	}

	db, err := store.InitDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() { _ = db.Close() }()

	srv := server.New(cfg, log, dir, db)
	defer srv.Close()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down...")
		srv.Close()
		os.Exit(0)
	}()

	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
