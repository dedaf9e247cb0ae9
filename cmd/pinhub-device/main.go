package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/device"
)

func main() {
	var cfg device.Config
	flag.StringVar(&cfg.ServerURL, "server", "ws://localhost:8080", "hub base URL")
	flag.StringVar(&cfg.Token, "token", os.Getenv("PINHUB_TOKEN"), "auth token")
	flag.StringVar(&cfg.User, "user", "", "owning user email")
	flag.IntVar(&cfg.DeviceID, "device", 0, "device id")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	if cfg.User == "" || cfg.Token == "" {
		log.Fatal().Msg("-user and -token are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
	}()

	client := device.NewClient(cfg, log)
	go func() {
		for msg := range client.Messages() {
			log.Info().Str("type", msg.Type).Int("id", msg.ID).Str("body", msg.Body).Msg("command received")
		}
	}()

	client.Run(ctx)
}
