package redis_client

import (
	"context"

	"github.com/adjust/rmq/v5"
	"github.com/parcelwatch/parcelwatch/pkg/util"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var Client *redis.Client
var QueueConnection rmq.Connection

const defaultConnectionAddress = "localhost:6379"
const defaultConnectionPassword = ""
const defaultDatabase = 0

const queueConnectionTag = "parcelwatch"

func Connect() error {
	address := defaultConnectionAddress
	password := defaultConnectionPassword

	env := util.GetEnvironmentVariables()

	if env["PARCELWATCH_REDIS_ADDRESS"] != "" {
		address = env["PARCELWATCH_REDIS_ADDRESS"]
	}

	if env["PARCELWATCH_REDIS_PASSWORD"] != "" {
		password = env["PARCELWATCH_REDIS_PASSWORD"]
	}

	database := util.EnvironmentInt(env, "PARCELWATCH_REDIS_DATABASE", defaultDatabase)

	return ConnectWithOptions(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})
}

func ConnectWithOptions(options *redis.Options) error {
	Client = redis.NewClient(options)

	statusCmd := Client.Ping(context.Background())
	if err := statusCmd.Err(); err != nil {
		return err
	}

	errChan := make(chan error, 10)
	go logQueueErrors(errChan)

	var err error
	QueueConnection, err = rmq.OpenConnectionWithRedisClient(queueConnectionTag, Client, errChan)
	if err != nil {
		return err
	}

	return nil
}

func Ping(ctx context.Context) error {
	return Client.Ping(ctx).Err()
}

func logQueueErrors(errChan <-chan error) {
	for err := range errChan {
		log.Error().Err(err).Msg("Redis queue error")
	}
}
