package events

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/parcelwatch/parcelwatch/pkg/consumer"
	"github.com/parcelwatch/parcelwatch/pkg/dbwatch"
	"github.com/parcelwatch/parcelwatch/pkg/elastic_client"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/redis_client"
	"github.com/parcelwatch/parcelwatch/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Provides the events runner",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run events server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "stats-listen",
						Value: ":3333",
						Usage: "listen address for the queue stats and health server",
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}

					env := util.GetEnvironmentVariables()

					batchConsumer, err := NewEventsBatchConsumer(env["PARCELWATCH_EVENTS_FILTER"])
					if err != nil {
						return err
					}

					if util.EnvironmentBool(env, "PARCELWATCH_EVENTS_NOTIFY") {
						notifyQueue, err := redis_client.QueueConnection.OpenQueue(NotifyQueue)
						if err != nil {
							return err
						}
						batchConsumer.ForwardNotifications(notifyQueue)
					}

					redisConsumer := consumer.RedisConsumer{
						QueueName:       dbwatch.EventsQueue,
						NumberConsumers: util.EnvironmentInt(env, "PARCELWATCH_EVENTS_CONSUMERS", 5),
						BatchSize:       20,
						Timeout:         2 * time.Second,
						Consumer:        batchConsumer,
						StatsListen:     c.String("stats-listen"),
						HealthChecks:    []consumer.HealthCheck{redis_client.Ping},
					}

					go func() {
						if err := redisConsumer.Setup(); err != nil {
							log.Fatal().Err(err).Msg("Events consumer failed")
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

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish
					elastic_client.WaitUntilQueueEmpty()

					return nil
				},
			},
			{
				Name:  "cleaner",
				Usage: "return unacked deliveries from dead consumers to the queue",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Value: time.Minute,
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
					defer cancel()

					cleaner := rmq.NewCleaner(redis_client.QueueConnection)
					ticker := time.NewTicker(c.Duration("interval"))
					defer ticker.Stop()

					for {
						returned, err := cleaner.Clean()
						if err != nil {
							log.Error().Err(err).Msg("Failed to clean queues")
						} else if returned > 0 {
							log.Info().Int64("returned", returned).Msg("Cleaned queues")
						}

						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
						}
					}
				},
			},
			{
				Name:  "test-event",
				Usage: "generate a test event",
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					eventsQueue, err := redis_client.QueueConnection.OpenQueue(dbwatch.EventsQueue)
					if err != nil {
						return err
					}

					event := model.Event{
						Type:      model.EventTypeDeliveryIncidentReported,
						Timestamp: time.Now(),
						Body: model.DeliveryEventBody{
							PrimaryIdentifier: "PW:DELIVERY:TEST",
							TrackingID:        "TEST0001",
							Status:            model.DeliveryStatusDelayed,
							PreviousStatus:    model.DeliveryStatusInTransit,
							Incident: &model.Incident{
								ID:          "test",
								Type:        "traffic",
								Severity:    model.IncidentSeverityHigh,
								Description: "Road closed on the A40",
								ReportedAt:  time.Now(),
							},
						},
					}

					eventBytes, _ := json.Marshal(event)

					return eventsQueue.PublishBytes(eventBytes)
				},
			},
		},
	}
}
