// Package simulator drives deliveries along their path one simulated second
// per tick and feeds each position into the tracking updater.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/broadcast"
	"github.com/parcelwatch/parcelwatch/pkg/clock"
	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/routing"
	"github.com/parcelwatch/parcelwatch/pkg/tracking"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/exp/slices"
)

type Manager struct {
	updater *tracking.Updater
	router  routing.Router
	gateway broadcast.Gateway
	metrics *metrics.Metrics
	clock   clock.Clock
	config  Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a simulation manager. router may be nil, in which case
// every simulation runs in linear mode unless the delivery already has a route.
func NewManager(updater *tracking.Updater, router routing.Router, gateway broadcast.Gateway, m *metrics.Metrics, c clock.Clock, config Config) *Manager {
	if gateway == nil {
		gateway = broadcast.Nop{}
	}
	if c == nil {
		c = clock.RealClock{}
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaultConfig.TickInterval
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = defaultConfig.DefaultDuration
	}
	if config.RouteTimeout <= 0 {
		config.RouteTimeout = defaultConfig.RouteTimeout
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = defaultConfig.PersistTimeout
	}

	return &Manager{
		updater:  updater,
		router:   router,
		gateway:  gateway,
		metrics:  m,
		clock:    c,
		config:   config,
		sessions: map[string]*Session{},
	}
}

type completedPayload struct {
	StartTime      time.Time `json:"start_time"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Mode           Mode      `json:"mode"`
}

// Start begins a simulation for the delivery. The slot is reserved before the
// routing provider is called so two concurrent starts cannot both succeed.
func (m *Manager) Start(ctx context.Context, identifier string, options Options, actor tracking.Actor) (*Snapshot, error) {
	delivery, err := m.updater.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if delivery.Status.IsTerminal() {
		return nil, &model.TerminalStateError{Identifier: identifier, Status: delivery.Status}
	}
	if !delivery.Sender.Geocoded || !delivery.Receiver.Geocoded ||
		delivery.Sender.Location.IsSentinel() || delivery.Receiver.Location.IsSentinel() {
		return nil, &model.PreconditionError{Reason: "sender and receiver must be geocoded before simulating"}
	}

	totalSeconds, err := options.totalSeconds(m.config.DefaultDuration, m.clock.Now())
	if err != nil {
		return nil, err
	}

	// Keyed by the stored identifier, callers may pass request scoped strings
	identifier = delivery.PrimaryIdentifier

	session := newSession(delivery, totalSeconds, m.clock.Now())
	if !m.reserve(identifier, session) {
		return nil, &model.ConflictError{Reason: fmt.Sprintf("simulation already running for %s", identifier)}
	}

	if options.UseRoute && !delivery.Route.HasGeometry() {
		delivery, err = m.fetchRoute(ctx, delivery)
		if err != nil {
			m.release(identifier, session)
			return nil, err
		}
	}

	// Stopped while routing, the delivery was never marked active
	if session.stopped() {
		m.release(identifier, session)
		return nil, &model.ConflictError{Reason: errAlreadyStopped.Error()}
	}

	session.configure(delivery, options.UseRoute)

	if _, err := m.updater.BeginSimulation(ctx, identifier, actor); err != nil {
		m.release(identifier, session)
		return nil, err
	}

	sessionContext, cancel := context.WithCancel(context.Background())
	if err := session.markRunning(cancel); err != nil {
		cancel()
		m.endSimulation(identifier, "stopped while starting", actor)
		m.release(identifier, session)
		return nil, &model.ConflictError{Reason: err.Error()}
	}

	m.metrics.SimulationStarted()

	snapshot := session.Snapshot()
	log.Info().
		Str("delivery", identifier).
		Str("mode", string(snapshot.Mode)).
		Float64("seconds", snapshot.TotalSeconds).
		Float64("resume", snapshot.Progress).
		Msg("Simulation started")

	go m.run(sessionContext, session)

	return &snapshot, nil
}

// fetchRoute asks the routing provider for a road route and persists it.
// Provider failures fall back to linear mode.
func (m *Manager) fetchRoute(ctx context.Context, delivery *model.Delivery) (*model.Delivery, error) {
	if m.router == nil {
		log.Debug().Str("delivery", delivery.PrimaryIdentifier).Msg("No routing provider, using linear mode")
		return delivery, nil
	}

	coordinates := [][]float64{delivery.Sender.Location.Coordinates}
	for _, waypoint := range delivery.TrackingData.Waypoints {
		if !waypoint.Location.IsSentinel() {
			coordinates = append(coordinates, waypoint.Location.Coordinates)
		}
	}
	coordinates = append(coordinates, delivery.Receiver.Location.Coordinates)

	routeContext, cancel := context.WithTimeout(ctx, m.config.RouteTimeout)
	route, err := m.router.Route(routeContext, coordinates)
	cancel()

	if err != nil {
		log.Warn().Err(err).Str("delivery", delivery.PrimaryIdentifier).Msg("Route lookup failed, using linear mode")
		return delivery, nil
	}

	return m.updater.SetRoute(ctx, delivery.PrimaryIdentifier, route)
}

func (m *Manager) reserve(identifier string, session *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[identifier]; exists {
		return false
	}

	m.sessions[identifier] = session
	return true
}

func (m *Manager) release(identifier string, session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[identifier] == session {
		delete(m.sessions, identifier)
	}
}

func (m *Manager) lookup(identifier string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[identifier]
	return session, ok
}

func (m *Manager) run(ctx context.Context, session *Session) {
	defer close(session.done)

	timer := time.NewTimer(m.config.TickInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		finished, err := m.tick(ctx, session)

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			m.fail(session, err)
			return
		}

		if finished {
			m.complete(session)
			return
		}

		timer.Reset(m.config.TickInterval)
	}
}

func (m *Manager) tick(ctx context.Context, session *Session) (finished bool, err error) {
	var catcher panics.Catcher

	catcher.Try(func() {
		started := time.Now()
		next := session.advance()

		position := tracking.Position{
			Coordinates:     next.point,
			VehicleProgress: next.percent,
			Speed:           &next.speed,
			Bearing:         next.bearing,
		}

		var delivery *model.Delivery
		delivery, err = m.updater.ApplyPosition(ctx, session.deliveryID, position, tracking.ActorSimulator)
		m.metrics.ObserveTick(string(session.mode), time.Since(started))

		if err == nil {
			finished = next.percent >= tracking.DeliveredThreshold || delivery.Status == model.DeliveryStatusDelivered
		}
	})

	if recovered := catcher.Recovered(); recovered != nil {
		return false, recovered.AsError()
	}

	return finished, err
}

func (m *Manager) complete(session *Session) {
	if !session.finish(StateCompleted) {
		return
	}
	m.release(session.deliveryID, session)
	m.metrics.SimulationFinished(string(StateCompleted))

	snapshot := session.Snapshot()
	m.gateway.Publish(session.deliveryID, session.trackingID, model.BroadcastSimulationCompleted, completedPayload{
		StartTime:      snapshot.StartTime,
		ElapsedSeconds: snapshot.ElapsedSeconds,
		Mode:           snapshot.Mode,
	})

	log.Info().Str("delivery", session.deliveryID).Msg("Simulation completed")
}

// fail stops a session whose tick could not be applied. Other sessions keep running.
func (m *Manager) fail(session *Session, err error) {
	if !session.finish(StateStopped) {
		return
	}
	m.release(session.deliveryID, session)
	m.metrics.SimulationFinished(string(StateStopped))

	log.Error().Err(err).Str("delivery", session.deliveryID).Msg("Simulation tick failed, stopping")

	m.endSimulation(session.deliveryID, "tick failed", tracking.ActorSimulator)
}

func (m *Manager) endSimulation(identifier string, reason string, actor tracking.Actor) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.PersistTimeout)
	defer cancel()

	_, err := m.updater.EndSimulation(ctx, identifier, reason, actor)

	var terminal *model.TerminalStateError
	if err != nil && !errors.As(err, &terminal) {
		log.Error().Err(err).Str("delivery", identifier).Msg("Failed to record simulation stop")
	}
}

// Stop halts the delivery's simulation. It returns false when nothing was
// running, so repeated calls are harmless. No tick is applied after Stop returns.
func (m *Manager) Stop(ctx context.Context, identifier string, reason string, actor tracking.Actor) (bool, error) {
	session, ok := m.lookup(identifier)
	if !ok {
		return false, nil
	}

	previous, stopped := session.halt()
	if !stopped {
		return false, nil
	}

	// Start has not launched the loop yet. It keeps the slot until its own
	// cleanup so no second simulation can begin in between.
	if previous == StateIdle {
		return true, nil
	}

	m.release(session.deliveryID, session)

	m.metrics.SimulationFinished(string(StateStopped))

	if reason == "" {
		reason = "stopped"
	}

	_, err := m.updater.EndSimulation(ctx, identifier, reason, actor)

	var terminal *model.TerminalStateError
	if err != nil && !errors.As(err, &terminal) {
		return true, err
	}

	log.Info().Str("delivery", identifier).Str("reason", reason).Msg("Simulation stopped")

	return true, nil
}

// Cancel stops any running simulation and moves the delivery to cancelled
func (m *Manager) Cancel(ctx context.Context, identifier string, reason string, actor tracking.Actor) (*model.Delivery, error) {
	if _, err := m.Stop(ctx, identifier, reason, actor); err != nil {
		return nil, err
	}

	return m.updater.Cancel(ctx, identifier, reason, actor)
}

func (m *Manager) Get(identifier string) (Snapshot, bool) {
	session, ok := m.lookup(identifier)
	if !ok {
		return Snapshot{}, false
	}

	return session.Snapshot(), true
}

// Active lists the sessions that are starting or running, ordered by delivery
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(sessions))
	for _, session := range sessions {
		snapshots = append(snapshots, session.Snapshot())
	}

	slices.SortFunc(snapshots, func(a, b Snapshot) int {
		return strings.Compare(a.DeliveryID, b.DeliveryID)
	})

	return snapshots
}

// Shutdown stops every running simulation
func (m *Manager) Shutdown(ctx context.Context) {
	var wg conc.WaitGroup

	for _, snapshot := range m.Active() {
		identifier := snapshot.DeliveryID

		wg.Go(func() {
			if _, err := m.Stop(ctx, identifier, "shutdown", tracking.ActorSystem); err != nil {
				log.Error().Err(err).Str("delivery", identifier).Msg("Failed to stop simulation")
			}
		})
	}

	wg.Wait()
}
