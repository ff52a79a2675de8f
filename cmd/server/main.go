package main

import (
	"context"
	"flag"
	"log"

	"github.com/dkrasnov/notesync/internal/logging"
	"github.com/dkrasnov/notesync/internal/server"
	"github.com/dkrasnov/notesync/internal/server/config"
)

func main() {
	configFile := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, flush, err := logging.NewProduction(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer flush()

	app, err := server.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
