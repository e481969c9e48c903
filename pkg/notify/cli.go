package notify

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/consumer"
	"github.com/parcelwatch/parcelwatch/pkg/events"
	"github.com/parcelwatch/parcelwatch/pkg/redis_client"
	"github.com/parcelwatch/parcelwatch/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "notify",
		Usage: "Provides the notification system",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run notify server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "stats-listen",
						Value: ":3334",
						Usage: "listen address for the queue stats and health server",
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					env := util.GetEnvironmentVariables()

					var sender Sender = LogSender{}
					if webhook := env["PARCELWATCH_NOTIFY_WEBHOOK"]; webhook != "" {
						sender = NewWebhookSender(webhook, env["PARCELWATCH_NOTIFY_WEBHOOK_SECRET"])
					} else {
						log.Info().Msg("No notification webhook configured, notifications will only be logged")
					}

					redisConsumer := consumer.RedisConsumer{
						QueueName:       events.NotifyQueue,
						NumberConsumers: 5,
						BatchSize:       20,
						Timeout:         2 * time.Second,
						Consumer:        NewNotifyBatchConsumer(sender),
						StatsListen:     c.String("stats-listen"),
						HealthChecks:    []consumer.HealthCheck{redis_client.Ping},
					}

					go func() {
						if err := redisConsumer.Setup(); err != nil {
							log.Fatal().Err(err).Msg("Notify consumer failed")
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

					return nil
				},
			},
		},
	}
}
