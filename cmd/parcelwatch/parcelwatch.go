package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/parcelwatch/parcelwatch/pkg/api"
	"github.com/parcelwatch/parcelwatch/pkg/dbwatch"
	"github.com/parcelwatch/parcelwatch/pkg/events"
	"github.com/parcelwatch/parcelwatch/pkg/notify"
	"github.com/parcelwatch/parcelwatch/pkg/realtime"
	"github.com/parcelwatch/parcelwatch/pkg/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	// A missing .env file is fine, the environment may already be populated
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	if os.Getenv("PARCELWATCH_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("PARCELWATCH_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "parcelwatch",
		Description: "Single binary for ParcelWatch - runs all the services",

		Commands: []*cli.Command{
			api.RegisterCLI(),
			realtime.RegisterCLI(),
			events.RegisterCLI(),
			notify.RegisterCLI(),
			dbwatch.RegisterCLI(),
			simulator.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
