package simulator

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/geo"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/senseyeio/duration"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

type Mode string

const (
	ModeRoute  Mode = "route-based"
	ModeLinear Mode = "linear"
)

type Options struct {
	// Simulated minutes for the whole trip
	TimeIntervalMinutes float64 `json:"timeInterval"`
	// ISO-8601 alternative to TimeIntervalMinutes, e.g. PT45M
	Duration string `json:"duration"`
	UseRoute bool   `json:"useRoute"`
}

func (o Options) totalSeconds(fallback time.Duration, now time.Time) (float64, error) {
	validation := &model.ValidationError{}

	var total float64
	switch {
	case o.Duration != "":
		parsed, err := duration.ParseISO8601(o.Duration)
		if err != nil {
			validation.Add("duration", "must be an ISO-8601 duration such as PT45M")
			break
		}
		total = parsed.Shift(now).Sub(now).Seconds()
	case o.TimeIntervalMinutes != 0:
		total = o.TimeIntervalMinutes * 60
	default:
		total = fallback.Seconds()
	}

	if len(validation.Fields) == 0 && (math.IsNaN(total) || total < 1) {
		validation.Add("timeInterval", "must be at least one simulated second")
	}

	if err := validation.OrNil(); err != nil {
		return 0, err
	}

	return math.Round(total), nil
}

type Snapshot struct {
	DeliveryID     string
	TrackingID     string
	Mode           Mode
	State          State
	StartTime      time.Time
	TotalSeconds   float64
	ElapsedSeconds float64
	Progress       float64
}

// Session is the in-memory state of one running simulation. It is owned by
// its tick goroutine; the mutex only guards reads from other goroutines.
type Session struct {
	deliveryID string
	trackingID string
	startTime  time.Time

	mu      sync.Mutex
	state   State
	mode    Mode
	elapsed float64
	percent float64

	totalSeconds  float64
	totalDistance float64
	start         []float64
	end           []float64
	geometry      [][]float64
	previous      []float64

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(delivery *model.Delivery, totalSeconds float64, startTime time.Time) *Session {
	return &Session{
		deliveryID:   delivery.PrimaryIdentifier,
		trackingID:   delivery.TrackingID,
		startTime:    startTime,
		state:        StateIdle,
		mode:         ModeLinear,
		totalSeconds: totalSeconds,
		done:         make(chan struct{}),
	}
}

// configure picks the path from the delivery and resumes from its current progress
func (s *Session) configure(delivery *model.Delivery, useRoute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.start = []float64{delivery.Sender.Location.Longitude(), delivery.Sender.Location.Latitude()}
	s.end = []float64{delivery.Receiver.Location.Longitude(), delivery.Receiver.Location.Latitude()}

	if useRoute && delivery.Route.HasGeometry() {
		s.mode = ModeRoute
		s.geometry = delivery.Route.Geometry
		s.totalDistance = delivery.Route.TotalDistance
		if s.totalDistance <= 0 {
			s.totalDistance = geo.PolylineLength(s.geometry)
		}
	} else {
		s.mode = ModeLinear
		s.totalDistance = geo.Haversine(s.start, s.end)
	}

	resumeFrom := math.Max(0, math.Min(100, delivery.TrackingData.VehicleProgress))
	s.elapsed = math.Floor(resumeFrom / 100 * s.totalSeconds)
	s.percent = s.elapsed / s.totalSeconds * 100
	s.previous = s.pointAt(s.elapsed / s.totalSeconds)
}

func (s *Session) pointAt(fraction float64) []float64 {
	if s.mode == ModeRoute {
		return geo.PointAtDistance(s.geometry, s.totalDistance*fraction)
	}

	return geo.Interpolate(s.start, s.end, fraction)
}

type step struct {
	point   []float64
	percent float64
	speed   float64
	bearing *float64
}

// advance moves the session forward one simulated second
func (s *Session) advance() step {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elapsed = math.Min(s.totalSeconds, s.elapsed+1)
	fraction := s.elapsed / s.totalSeconds

	s.percent = fraction * 100
	if fraction >= 1 {
		s.percent = 100
	}

	point := s.pointAt(fraction)

	next := step{
		point:   point,
		percent: s.percent,
		speed:   s.totalDistance / s.totalSeconds * 3.6,
	}

	if s.previous != nil && (s.previous[0] != point[0] || s.previous[1] != point[1]) {
		bearing := geo.Bearing(s.previous, point)
		next.bearing = &bearing
	}
	s.previous = point

	return next
}

var errAlreadyStopped = errors.New("simulation stopped before it started")

func (s *Session) markRunning(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return errAlreadyStopped
	}

	s.state = StateRunning
	s.cancel = cancel
	return nil
}

// finish moves a running session to its final state. Only the first caller wins.
func (s *Session) finish(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning && s.state != StateIdle {
		return false
	}

	s.state = state
	return true
}

func (s *Session) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state == StateStopped
}

// halt cancels the tick loop and waits for it to exit. It returns the state
// the session was in and whether this call moved it to Stopped.
func (s *Session) halt() (State, bool) {
	s.mu.Lock()
	state := s.state
	cancel := s.cancel
	s.mu.Unlock()

	switch state {
	case StateIdle:
		return state, s.finish(StateStopped)
	case StateRunning:
		cancel()
		<-s.done
		return state, s.finish(StateStopped)
	}

	return state, false
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		DeliveryID:     s.deliveryID,
		TrackingID:     s.trackingID,
		Mode:           s.mode,
		State:          s.state,
		StartTime:      s.startTime,
		TotalSeconds:   s.totalSeconds,
		ElapsedSeconds: s.elapsed,
		Progress:       s.percent,
	}
}
