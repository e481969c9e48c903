package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/parcelwatch/parcelwatch/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DeliveryStore keeps deliveries in the deliveries collection. Saves replace
// the whole document so the change stream sees complete pre and post images.
type DeliveryStore struct {
	collection *mongo.Collection
}

func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{
		collection: GetCollection(DeliveriesCollection),
	}
}

func (s *DeliveryStore) findOne(ctx context.Context, filter bson.M, identifier string) (*model.Delivery, error) {
	var delivery *model.Delivery
	err := s.collection.FindOne(ctx, filter).Decode(&delivery)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &model.NotFoundError{Kind: "delivery", Identifier: identifier}
	} else if err != nil {
		return nil, fmt.Errorf("finding delivery %s: %w", identifier, err)
	}

	return delivery, nil
}

func (s *DeliveryStore) Get(ctx context.Context, identifier string) (*model.Delivery, error) {
	return s.findOne(ctx, bson.M{"primaryidentifier": identifier}, identifier)
}

func (s *DeliveryStore) GetByTrackingID(ctx context.Context, trackingID string) (*model.Delivery, error) {
	return s.findOne(ctx, bson.M{"trackingid": trackingID}, trackingID)
}

func (s *DeliveryStore) Save(ctx context.Context, delivery *model.Delivery) error {
	delivery.TrackingData.CurrentLocation = delivery.TrackingData.CurrentLocation.GeoJSON()

	bsonRep, err := bson.Marshal(delivery)
	if err != nil {
		return err
	}

	opts := options.Replace().SetUpsert(true)
	_, err = s.collection.ReplaceOne(ctx, bson.M{"primaryidentifier": delivery.PrimaryIdentifier}, bsonRep, opts)
	if err != nil {
		return fmt.Errorf("saving delivery %s: %w", delivery.PrimaryIdentifier, err)
	}

	return nil
}

// ListActive returns deliveries whose tracking is flagged active, used to
// clear flags left behind by a crashed process
func (s *DeliveryStore) ListActive(ctx context.Context) ([]*model.Delivery, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"trackingdata.active": true})
	if err != nil {
		return nil, err
	}

	var deliveries []*model.Delivery
	if err := cursor.All(ctx, &deliveries); err != nil {
		return nil, err
	}

	return deliveries, nil
}
