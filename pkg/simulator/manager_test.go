package simulator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/broadcast"
	"github.com/parcelwatch/parcelwatch/pkg/geo"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/routing"
	"github.com/parcelwatch/parcelwatch/pkg/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender   = []float64{-0.1278, 51.5074}
	receiver = []float64{-0.0878, 51.5274}
)

func newDelivery(identifier string) *model.Delivery {
	return &model.Delivery{
		PrimaryIdentifier: identifier,
		TrackingID:        "TRK-" + identifier,
		Status:            model.DeliveryStatusPending,
		Sender: model.Party{
			Name:     "Warehouse",
			Address:  "1 Depot Road",
			Location: model.NewLocation(sender[0], sender[1]),
			Geocoded: true,
		},
		Receiver: model.Party{
			Name:     "Customer",
			Address:  "2 High Street",
			Location: model.NewLocation(receiver[0], receiver[1]),
			Geocoded: true,
		},
		TrackingData: model.TrackingData{
			CurrentLocation: model.NewLocation(0, 0),
		},
	}
}

type fakeRouter struct {
	calls int32
	err   error
}

func (r *fakeRouter) Route(_ context.Context, coordinates [][]float64) (*model.Route, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}

	geometry := [][]float64{
		coordinates[0],
		{-0.1078, 51.5124},
		coordinates[len(coordinates)-1],
	}

	return &model.Route{
		Geometry:      geometry,
		TotalDistance: geo.PolylineLength(geometry),
		TotalDuration: 600,
	}, nil
}

// failingStore starts rejecting saves once failing is set
type failingStore struct {
	*tracking.MemoryStore
	failing atomic.Bool
}

func (s *failingStore) Save(ctx context.Context, delivery *model.Delivery) error {
	if s.failing.Load() {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Save(ctx, delivery)
}

// blockingRouter holds every route request until released
type blockingRouter struct {
	fakeRouter
	entered chan struct{}
	release chan struct{}
}

func newBlockingRouter() *blockingRouter {
	return &blockingRouter{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (r *blockingRouter) Route(ctx context.Context, coordinates [][]float64) (*model.Route, error) {
	r.entered <- struct{}{}

	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return r.fakeRouter.Route(ctx, coordinates)
}

type fixture struct {
	store    tracking.Store
	updater  *tracking.Updater
	recorder *broadcast.Recorder
	manager  *Manager
}

func newFixture(t *testing.T, store tracking.Store, router routing.Router) *fixture {
	t.Helper()

	recorder := broadcast.NewRecorder(100000)
	updater := tracking.NewUpdater(store, recorder, nil)

	config := Config{TickInterval: time.Millisecond}

	manager := NewManager(updater, router, recorder, nil, nil, config)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	return &fixture{store: store, updater: updater, recorder: recorder, manager: manager}
}

func (f *fixture) get(t *testing.T, identifier string) *model.Delivery {
	delivery, err := f.store.Get(context.Background(), identifier)
	require.NoError(t, err)
	return delivery
}

func float(value float64) *float64 {
	return &value
}

func countActions(delivery *model.Delivery, action string) int {
	count := 0
	for _, entry := range delivery.UpdateLog {
		if entry.Action == action {
			count++
		}
	}
	return count
}

func TestSimulationRunsToDelivered(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), nil)

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 1}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, ModeLinear, snapshot.Mode)
	assert.Equal(t, StateRunning, snapshot.State)
	assert.Equal(t, 60.0, snapshot.TotalSeconds)

	require.Eventually(t, func() bool {
		return f.get(t, "d1").Status == model.DeliveryStatusDelivered
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(f.manager.Active()) == 0
	}, time.Second, 5*time.Millisecond)

	delivery := f.get(t, "d1")
	assert.Equal(t, 60, countActions(delivery, "position_update"))
	assert.Equal(t, 100.0, delivery.TrackingData.VehicleProgress)
	assert.False(t, delivery.TrackingData.Active)
	assert.NotNil(t, delivery.ActualDelivery)
	assert.InDelta(t, receiver[0], delivery.TrackingData.CurrentLocation.Longitude(), 1e-9)
	assert.InDelta(t, receiver[1], delivery.TrackingData.CurrentLocation.Latitude(), 1e-9)
	assert.Greater(t, delivery.TrackingData.Speed, 0.0)

	var statuses []model.DeliveryStatus
	for _, change := range delivery.StatusHistory {
		statuses = append(statuses, change.To)
	}
	assert.Equal(t, []model.DeliveryStatus{
		model.DeliveryStatusInTransit,
		model.DeliveryStatusOutForDelivery,
		model.DeliveryStatusDelivered,
	}, statuses)

	var completed int
	for _, message := range f.recorder.Drain() {
		if message.Type == model.BroadcastSimulationCompleted {
			completed++
			assert.Equal(t, "TRK-d1", message.TrackingID)
		}
	}
	assert.Equal(t, 1, completed)
}

func TestSimulationProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), nil)

	_, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 0.5}, tracking.ActorSystem)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.get(t, "d1").Status == model.DeliveryStatusDelivered
	}, 5*time.Second, 5*time.Millisecond)

	previous := -1.0
	for _, entry := range f.get(t, "d1").UpdateLog {
		if entry.Action != "position_update" {
			continue
		}
		assert.Greater(t, entry.VehicleProgress, previous)
		previous = entry.VehicleProgress
	}
}

func TestSimulationFollowsRoute(t *testing.T) {
	router := &fakeRouter{}
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), router)

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 1, UseRoute: true}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, ModeRoute, snapshot.Mode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&router.calls))

	require.Eventually(t, func() bool {
		return f.get(t, "d1").Status == model.DeliveryStatusDelivered
	}, 5*time.Second, 5*time.Millisecond)

	delivery := f.get(t, "d1")
	require.True(t, delivery.Route.HasGeometry())
	assert.Len(t, delivery.Route.Geometry, 3)
	assert.Equal(t, 0.0, delivery.TrackingData.RouteProgress)
	require.NotNil(t, delivery.TrackingData.RemainingDistance)
	assert.Equal(t, 0.0, *delivery.TrackingData.RemainingDistance)
}

func TestSimulationKeepsOperatorRouteProgress(t *testing.T) {
	delivery := newDelivery("d1")
	delivery.TrackingData.RouteProgress = 10

	f := newFixture(t, tracking.NewMemoryStore(delivery), &fakeRouter{})

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 5, UseRoute: true}, tracking.ActorSystem)
	require.NoError(t, err)
	require.Equal(t, ModeRoute, snapshot.Mode)

	_, err = f.updater.UpdatePositionManual(context.Background(), "d1", tracking.ManualUpdate{RouteProgress: float(30)}, tracking.Actor{Name: "operator", Source: "api"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.get(t, "d1").Status == model.DeliveryStatusDelivered
	}, 10*time.Second, 5*time.Millisecond)

	delivery = f.get(t, "d1")
	assert.Equal(t, 100.0, delivery.TrackingData.VehicleProgress)
	assert.Equal(t, 30.0, delivery.TrackingData.RouteProgress)
}

func TestSimulationReusesStoredRoute(t *testing.T) {
	delivery := newDelivery("d1")
	delivery.Route = &model.Route{Geometry: [][]float64{sender, receiver}}

	router := &fakeRouter{}
	f := newFixture(t, tracking.NewMemoryStore(delivery), router)

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60, UseRoute: true}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, ModeRoute, snapshot.Mode)
	assert.Equal(t, int32(0), atomic.LoadInt32(&router.calls))
}

func TestSimulationFallsBackToLinear(t *testing.T) {
	router := &fakeRouter{err: &model.ProviderError{Provider: "openrouteservice", Err: errors.New("quota exceeded")}}
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), router)

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60, UseRoute: true}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, ModeLinear, snapshot.Mode)
	assert.Nil(t, f.get(t, "d1").Route)
}

func TestSimulationWithoutRouterIsLinear(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), nil)

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60, UseRoute: true}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, ModeLinear, snapshot.Mode)
}

func TestStartRejectsDuplicate(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), nil)

	_, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)

	_, err = f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	var conflict *model.ConflictError
	assert.True(t, errors.As(err, &conflict))

	assert.Len(t, f.manager.Active(), 1)

	rejectedAt := f.get(t, "d1").TrackingData.VehicleProgress
	require.Eventually(t, func() bool {
		return f.get(t, "d1").TrackingData.VehicleProgress > rejectedAt
	}, 5*time.Second, 5*time.Millisecond)

	delivery := f.get(t, "d1")
	assert.True(t, delivery.TrackingData.Active)
	assert.Equal(t, 1, countActions(delivery, "simulation_started"))
}

func TestStopWhileRoutingHoldsSlotUntilStartReturns(t *testing.T) {
	router := newBlockingRouter()
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), router)

	first := make(chan error, 1)
	go func() {
		_, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60, UseRoute: true}, tracking.ActorSystem)
		first <- err
	}()
	<-router.entered

	stopped, err := f.manager.Stop(context.Background(), "d1", "operator stop", tracking.ActorSystem)
	require.NoError(t, err)
	assert.True(t, stopped)

	var conflict *model.ConflictError
	_, err = f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	assert.True(t, errors.As(err, &conflict))

	close(router.release)
	assert.True(t, errors.As(<-first, &conflict))

	delivery := f.get(t, "d1")
	assert.False(t, delivery.TrackingData.Active)
	assert.Equal(t, 0, countActions(delivery, "simulation_started"))
	assert.Empty(t, f.manager.Active())

	_, err = f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.get(t, "d1").TrackingData.VehicleProgress > 0
	}, 5*time.Second, 5*time.Millisecond)

	delivery = f.get(t, "d1")
	assert.True(t, delivery.TrackingData.Active)
	assert.Equal(t, 1, countActions(delivery, "simulation_started"))
	assert.Equal(t, 0, countActions(delivery, "simulation_stopped"))
}

func TestStartPreconditions(t *testing.T) {
	ungeocoded := newDelivery("ungeocoded")
	ungeocoded.Receiver.Geocoded = false
	ungeocoded.Receiver.Location = model.NewLocation(0, 0)

	delivered := newDelivery("delivered")
	delivered.Status = model.DeliveryStatusDelivered

	f := newFixture(t, tracking.NewMemoryStore(ungeocoded, delivered), nil)

	_, err := f.manager.Start(context.Background(), "ungeocoded", Options{}, tracking.ActorSystem)
	var precondition *model.PreconditionError
	assert.True(t, errors.As(err, &precondition))

	_, err = f.manager.Start(context.Background(), "delivered", Options{}, tracking.ActorSystem)
	var terminal *model.TerminalStateError
	assert.True(t, errors.As(err, &terminal))

	_, err = f.manager.Start(context.Background(), "missing", Options{}, tracking.ActorSystem)
	var notFound *model.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	assert.Empty(t, f.manager.Active())
}

func TestStartDurations(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1"), newDelivery("d2"), newDelivery("d3")), nil)

	_, err := f.manager.Start(context.Background(), "d1", Options{Duration: "soon"}, tracking.ActorSystem)
	var validation *model.ValidationError
	assert.True(t, errors.As(err, &validation))

	_, err = f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: -5}, tracking.ActorSystem)
	assert.True(t, errors.As(err, &validation))

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{Duration: "PT2M"}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, 120.0, snapshot.TotalSeconds)

	snapshot, err = f.manager.Start(context.Background(), "d2", Options{}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig.DefaultDuration.Seconds(), snapshot.TotalSeconds)

	snapshot, err = f.manager.Start(context.Background(), "d3", Options{TimeIntervalMinutes: 90}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, 5400.0, snapshot.TotalSeconds)
}

func TestStopHaltsTicks(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), nil)

	_, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return countActions(f.get(t, "d1"), "position_update") >= 3
	}, 5*time.Second, 2*time.Millisecond)

	stopped, err := f.manager.Stop(context.Background(), "d1", "operator request", tracking.ActorSystem)
	require.NoError(t, err)
	assert.True(t, stopped)

	afterStop := f.get(t, "d1")
	assert.False(t, afterStop.TrackingData.Active)
	assert.Equal(t, "simulation_stopped", afterStop.UpdateLog[len(afterStop.UpdateLog)-1].Action)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.get(t, "d1").UpdateLog, len(afterStop.UpdateLog))

	stopped, err = f.manager.Stop(context.Background(), "d1", "again", tracking.ActorSystem)
	require.NoError(t, err)
	assert.False(t, stopped)

	_, ok := f.manager.Get("d1")
	assert.False(t, ok)
}

func TestRestartResumesProgress(t *testing.T) {
	delivery := newDelivery("d1")
	delivery.Status = model.DeliveryStatusInTransit
	delivery.TrackingData.VehicleProgress = 50

	f := newFixture(t, tracking.NewMemoryStore(delivery), nil)

	snapshot, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 1}, tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, 30.0, snapshot.ElapsedSeconds)
	assert.Equal(t, 50.0, snapshot.Progress)

	require.Eventually(t, func() bool {
		return f.get(t, "d1").Status == model.DeliveryStatusDelivered
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 30, countActions(f.get(t, "d1"), "position_update"))
}

func TestTickFailureStopsOnlyThatSession(t *testing.T) {
	healthy := newFixture(t, tracking.NewMemoryStore(newDelivery("healthy")), nil)

	store := &failingStore{MemoryStore: tracking.NewMemoryStore(newDelivery("broken"))}
	broken := newFixture(t, store, nil)

	_, err := healthy.manager.Start(context.Background(), "healthy", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)
	_, err = broken.manager.Start(context.Background(), "broken", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)

	store.failing.Store(true)

	require.Eventually(t, func() bool {
		return len(broken.manager.Active()) == 0
	}, 5*time.Second, 5*time.Millisecond)

	assert.Len(t, healthy.manager.Active(), 1)
}

func TestTickFailureLeavesOtherDeliveriesRunning(t *testing.T) {
	store := tracking.NewMemoryStore(newDelivery("d1"), newDelivery("d2"))
	f := newFixture(t, store, nil)

	_, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)
	_, err = f.manager.Start(context.Background(), "d2", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)

	// cancelling underneath the manager makes the next tick hit a terminal delivery
	_, err = f.updater.Cancel(context.Background(), "d1", "lost parcel", tracking.ActorSystem)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		active := f.manager.Active()
		return len(active) == 1 && active[0].DeliveryID == "d2"
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, model.DeliveryStatusCancelled, f.get(t, "d1").Status)
}

func TestCancelStopsSimulation(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d1")), nil)

	_, err := f.manager.Start(context.Background(), "d1", Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
	require.NoError(t, err)

	delivery, err := f.manager.Cancel(context.Background(), "d1", "customer request", tracking.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusCancelled, delivery.Status)
	assert.False(t, delivery.TrackingData.Active)
	assert.Empty(t, f.manager.Active())

	_, err = f.manager.Start(context.Background(), "d1", Options{}, tracking.ActorSystem)
	var terminal *model.TerminalStateError
	assert.True(t, errors.As(err, &terminal))
}

func TestShutdownStopsEverything(t *testing.T) {
	f := newFixture(t, tracking.NewMemoryStore(newDelivery("d2"), newDelivery("d1")), nil)

	for _, identifier := range []string{"d2", "d1"} {
		_, err := f.manager.Start(context.Background(), identifier, Options{TimeIntervalMinutes: 60}, tracking.ActorSystem)
		require.NoError(t, err)
	}

	active := f.manager.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "d1", active[0].DeliveryID)
	assert.Equal(t, "d2", active[1].DeliveryID)

	f.manager.Shutdown(context.Background())

	assert.Empty(t, f.manager.Active())
	assert.False(t, f.get(t, "d1").TrackingData.Active)
	assert.False(t, f.get(t, "d2").TrackingData.Active)
}
