package api

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/broadcast"
	"github.com/parcelwatch/parcelwatch/pkg/database"
	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/rabbitmq"
	"github.com/parcelwatch/parcelwatch/pkg/redis_client"
	"github.com/parcelwatch/parcelwatch/pkg/routing"
	"github.com/parcelwatch/parcelwatch/pkg/simulator"
	"github.com/parcelwatch/parcelwatch/pkg/tracking"
	"github.com/parcelwatch/parcelwatch/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const defaultRouteCacheExpiration = 24 * time.Hour

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "web-api",
		Usage: "Provides the core web API",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run web api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
						Usage: "listen target for the web server",
					},
					&cli.StringFlag{
						Name:  "realtime-listen",
						Value: ":8081",
						Usage: "listen target for the websocket, health and metrics server, empty to disable",
					},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					env := util.GetEnvironmentVariables()
					m := metrics.New()

					hub := broadcast.NewHub(env["PARCELWATCH_ADMIN_TOKEN"], m)
					gateway := broadcast.Multi{
						hub,
						broadcast.NewRedisPublisher(redis_client.Client, env["PARCELWATCH_REDIS_CHANNEL"], m),
					}

					if rabbitmq.Enabled() {
						if err := rabbitmq.Connect(); err != nil {
							return err
						}
						defer rabbitmq.Close()

						channel, err := rabbitmq.GetChannel()
						if err != nil {
							return err
						}

						amqpPublisher, err := broadcast.NewAMQPPublisher(channel, env["PARCELWATCH_RABBITMQ_EXCHANGE"], m)
						if err != nil {
							return err
						}
						gateway = append(gateway, amqpPublisher)
					}

					var router routing.Router
					var geocoder tracking.Geocoder

					routingConfig := routing.GetConfig()
					if routingConfig.APIKey != "" {
						cache := routing.NewCache(redis_client.Client, util.EnvironmentDuration(env, "PARCELWATCH_ROUTE_CACHE_EXPIRATION", defaultRouteCacheExpiration))

						provider, err := routing.NewORSProvider(routingConfig, cache)
						if err != nil {
							return err
						}
						router = provider
						geocoder = provider
					} else {
						log.Info().Msg("No routing provider configured, simulations will use linear mode")
					}

					store := database.NewDeliveryStore()
					updater := tracking.NewUpdater(store, gateway, nil)
					simulations := simulator.NewManager(updater, router, gateway, m, nil, simulator.GetConfig())

					clearStaleSimulations(store, updater)

					operatorAuth, err := OperatorAuthFromEnvironment()
					if err != nil {
						return err
					}

					ctx, cancel := context.WithCancel(context.Background())
					defer cancel()

					if realtimeListen := c.String("realtime-listen"); realtimeListen != "" {
						go func() {
							mux := broadcast.NewRealtimeMux(hub, m, database.Ping, redis_client.Ping)
							if err := broadcast.ListenAndServe(ctx, realtimeListen, mux); err != nil {
								log.Fatal().Err(err).Msg("Realtime server failed")
							}
						}()
					}

					app := NewApp(Services{
						Updater:      updater,
						Simulations:  simulations,
						Geocoder:     geocoder,
						Metrics:      m,
						OperatorAuth: operatorAuth,
					})

					go func() {
						if err := app.Listen(c.String("listen")); err != nil {
							log.Fatal().Err(err).Msg("Web API failed")
						}
					}()

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer shutdownCancel()

					simulations.Shutdown(shutdownCtx)

					if err := app.ShutdownWithContext(shutdownCtx); err != nil {
						log.Error().Err(err).Msg("Failed to shut down web API")
					}

					return database.Disconnect(shutdownCtx)
				},
			},
		},
	}
}

// clearStaleSimulations resets the active flag on deliveries whose
// simulation died with a previous process
func clearStaleSimulations(store *database.DeliveryStore, updater *tracking.Updater) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deliveries, err := store.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active deliveries")
		return
	}

	for _, delivery := range deliveries {
		if _, err := updater.EndSimulation(ctx, delivery.PrimaryIdentifier, "process restarted", tracking.ActorSystem); err != nil {
			log.Error().Err(err).Str("delivery", delivery.PrimaryIdentifier).Msg("Failed to clear stale simulation")
		}
	}

	if len(deliveries) > 0 {
		log.Info().Int("count", len(deliveries)).Msg("Cleared stale simulations")
	}
}
