package database

import (
	"context"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/util"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

var MongoGlobalInstance *MongoInstance

const defaultMongoConnectionString = "mongodb://localhost:27017/"
const defaultMongoDatabase = "parcelwatch"

const DeliveriesCollection = "deliveries"

func Connect() error {
	connectionString := defaultMongoConnectionString
	dbName := defaultMongoDatabase

	env := util.GetEnvironmentVariables()

	if env["PARCELWATCH_MONGODB_CONNECTION"] != "" {
		connectionString = env["PARCELWATCH_MONGODB_CONNECTION"]
	}

	if env["PARCELWATCH_MONGODB_DATABASE"] != "" {
		dbName = env["PARCELWATCH_MONGODB_DATABASE"]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return err
	}

	MongoGlobalInstance = &MongoInstance{
		Client:   client,
		Database: client.Database(dbName),
	}

	if err := Ping(ctx); err != nil {
		return err
	}

	createIndexes()

	runCommands()

	return nil
}

func Ping(ctx context.Context) error {
	return MongoGlobalInstance.Client.Ping(ctx, nil)
}

func Disconnect(ctx context.Context) error {
	if MongoGlobalInstance == nil {
		return nil
	}

	return MongoGlobalInstance.Client.Disconnect(ctx)
}

func GetCollection(collectionName string) *mongo.Collection {
	return MongoGlobalInstance.Database.Collection(collectionName)
}

// Pre and post images feed dbwatch. Requires
// use admin
// db.runCommand( {
//    setClusterParameter:
//       { changeStreamOptions: { preAndPostImages: { expireAfterSeconds: 15 } } }
// } )
func runCommands() {
	var result bson.M
	err := MongoGlobalInstance.Database.RunCommand(context.Background(), bson.D{
		{Key: "collMod", Value: DeliveriesCollection},
		{Key: "changeStreamPreAndPostImages", Value: bson.M{"enabled": true}},
	}).Decode(&result)

	if err != nil {
		log.Error().Err(err).Msg("Run commands mongodb")
	}
}
