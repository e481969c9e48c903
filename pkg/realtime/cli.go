package realtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/parcelwatch/parcelwatch/pkg/broadcast"
	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/redis_client"
	"github.com/parcelwatch/parcelwatch/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "realtime",
		Usage: "Websocket server for live delivery tracking",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run a websocket server fed from the redis tracking channel",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8081",
						Usage: "listen target for the websocket server",
					},
					&cli.StringFlag{
						Name:  "channel",
						Value: broadcast.DefaultRedisChannel,
						Usage: "redis pub/sub channel carrying tracking messages",
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					env := util.GetEnvironmentVariables()

					m := metrics.New()
					hub := broadcast.NewHub(env["PARCELWATCH_ADMIN_TOKEN"], m)

					ctx, cancel := context.WithCancel(context.Background())
					defer cancel()

					relay := broadcast.NewRedisRelay(redis_client.Client, c.String("channel"), hub)
					go func() {
						if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
							log.Fatal().Err(err).Msg("Redis relay failed")
						}
					}()

					go func() {
						mux := broadcast.NewRealtimeMux(hub, m, redis_client.Ping)
						if err := broadcast.ListenAndServe(ctx, c.String("listen"), mux); err != nil {
							log.Fatal().Err(err).Msg("Realtime server failed")
						}
					}()

					log.Info().Str("listen", c.String("listen")).Msg("Realtime server started")

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					return nil
				},
			},
		},
	}
}
