package tracking

import (
	"context"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/parcelwatch/parcelwatch/pkg/model"
)

type Store interface {
	Get(ctx context.Context, identifier string) (*model.Delivery, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*model.Delivery, error)
	Save(ctx context.Context, delivery *model.Delivery) error
}

// MemoryStore keeps deliveries in process. Every read and write is a deep
// copy so callers never share state with the stored document.
type MemoryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*model.Delivery
}

func NewMemoryStore(deliveries ...*model.Delivery) *MemoryStore {
	store := &MemoryStore{
		deliveries: map[string]*model.Delivery{},
	}

	for _, delivery := range deliveries {
		store.deliveries[delivery.PrimaryIdentifier] = clone(delivery)
	}

	return store
}

func clone(delivery *model.Delivery) *model.Delivery {
	var copied model.Delivery
	if err := copier.CopyWithOption(&copied, delivery, copier.Option{DeepCopy: true}); err != nil {
		panic(err)
	}

	return &copied
}

func (s *MemoryStore) Get(_ context.Context, identifier string) (*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivery, exists := s.deliveries[identifier]
	if !exists {
		return nil, &model.NotFoundError{Kind: "delivery", Identifier: identifier}
	}

	return clone(delivery), nil
}

func (s *MemoryStore) GetByTrackingID(_ context.Context, trackingID string) (*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, delivery := range s.deliveries {
		if delivery.TrackingID == trackingID {
			return clone(delivery), nil
		}
	}

	return nil, &model.NotFoundError{Kind: "delivery", Identifier: trackingID}
}

func (s *MemoryStore) Save(_ context.Context, delivery *model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[delivery.PrimaryIdentifier] = clone(delivery)

	return nil
}
