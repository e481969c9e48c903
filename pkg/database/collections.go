package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func createIndexes() {
	createDeliveriesIndexes()
}

func createDeliveriesIndexes() {
	deliveriesCollection := GetCollection(DeliveriesCollection)

	deliveriesIndex := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "primaryidentifier", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "trackingid", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "trackingdata.active", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "trackingdata.currentlocation", Value: "2dsphere"}},
		},
	}

	opts := options.CreateIndexes()
	_, err := deliveriesCollection.Indexes().CreateMany(context.Background(), deliveriesIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
