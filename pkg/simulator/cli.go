package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/kr/pretty"
	"github.com/parcelwatch/parcelwatch/pkg/broadcast"
	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/tracking"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func demoDelivery() *model.Delivery {
	now := time.Now()

	return &model.Delivery{
		PrimaryIdentifier:    "demo",
		TrackingID:           "DEMO-0001",
		CreationDateTime:     now,
		ModificationDateTime: now,
		Status:               model.DeliveryStatusPending,
		Sender: model.Party{
			Name:     "Central Depot",
			Address:  "1 Depot Road, London",
			Location: model.NewLocation(-0.1276, 51.5072),
			Geocoded: true,
		},
		Receiver: model.Party{
			Name:     "Ada Lovelace",
			Address:  "12 St James's Square, London",
			Location: model.NewLocation(-0.1353, 51.5074),
			Geocoded: true,
		},
		TrackingData: model.TrackingData{
			CurrentLocation: model.NewLocation(0, 0),
		},
	}
}

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Delivery simulation tools",
		Subcommands: []*cli.Command{
			{
				Name:  "demo",
				Usage: "run a simulation against an in-memory delivery and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "duration",
						Value: "PT2M",
						Usage: "simulated duration as an ISO8601 duration",
					},
					&cli.DurationFlag{
						Name:  "tick",
						Value: 20 * time.Millisecond,
						Usage: "wall clock time between ticks",
					},
					&cli.BoolFlag{
						Name:  "messages",
						Usage: "print every broadcast message",
					},
				},
				Action: func(c *cli.Context) error {
					store := tracking.NewMemoryStore(demoDelivery())
					recorder := broadcast.NewRecorder(16384)
					updater := tracking.NewUpdater(store, recorder, nil)

					manager := NewManager(updater, nil, recorder, metrics.New(), nil, Config{
						TickInterval: c.Duration("tick"),
					})

					ctx := context.Background()

					snapshot, err := manager.Start(ctx, "demo", Options{Duration: c.String("duration")}, tracking.Actor{Name: "demo", Source: "cli"})
					if err != nil {
						return err
					}
					log.Info().Float64("seconds", snapshot.TotalSeconds).Str("mode", string(snapshot.Mode)).Msg("Running demo simulation")

					ticker := time.NewTicker(100 * time.Millisecond)
					defer ticker.Stop()

					for range ticker.C {
						if _, running := manager.Get("demo"); !running {
							break
						}
					}

					delivery, err := updater.Get(ctx, "demo")
					if err != nil {
						return err
					}

					messages := recorder.Drain()
					if c.Bool("messages") {
						pretty.Println(messages)
					}

					fmt.Printf("%# v\n", pretty.Formatter(delivery.TrackingData))
					fmt.Printf("%# v\n", pretty.Formatter(delivery.StatusHistory))

					log.Info().
						Str("status", string(delivery.Status)).
						Int("messages", len(messages)).
						Msg("Demo simulation finished")

					return nil
				},
			},
		},
	}
}
