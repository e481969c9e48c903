// Package progress converts between a delivery's percentage progress and a
// point on its path.
package progress

import (
	"math"

	"github.com/parcelwatch/parcelwatch/pkg/geo"
	"github.com/parcelwatch/parcelwatch/pkg/model"
)

func clamp(percent float64) float64 {
	return math.Max(0, math.Min(100, percent))
}

func indexFor(percent float64, count int) int {
	index := int(math.Floor(clamp(percent) / 100 * float64(count-1)))

	if index < 0 {
		return 0
	}
	if index > count-1 {
		return count - 1
	}
	return index
}

// CoordinateForProgress picks the point for a percentage using, in order, the
// route geometry, the waypoints, then a straight line between sender and
// receiver. ok is false when neither endpoint has been geocoded, in which case
// callers keep the last known location.
func CoordinateForProgress(delivery *model.Delivery, percent float64) ([]float64, bool) {
	if delivery.Route.HasGeometry() {
		point := delivery.Route.Geometry[indexFor(percent, len(delivery.Route.Geometry))]
		return []float64{point[0], point[1]}, true
	}

	waypoints := delivery.TrackingData.Waypoints
	if len(waypoints) > 0 {
		location := waypoints[indexFor(percent, len(waypoints))].Location
		if !location.IsSentinel() {
			return []float64{location.Longitude(), location.Latitude()}, true
		}
	}

	sender := delivery.Sender.Location
	receiver := delivery.Receiver.Location
	if sender.IsSentinel() && receiver.IsSentinel() {
		return nil, false
	}

	return geo.Interpolate(
		[]float64{sender.Longitude(), sender.Latitude()},
		[]float64{receiver.Longitude(), receiver.Latitude()},
		clamp(percent)/100,
	), true
}

// ProgressForCoordinate estimates progress for a point. With route geometry
// the point is snapped to the nearest segment and measured along the route,
// otherwise it is the distance from the sender over the full sender to
// receiver distance. Only suitable for manual corrections.
func ProgressForCoordinate(delivery *model.Delivery, point []float64) float64 {
	if len(point) < 2 {
		return 0
	}

	if delivery.Route.HasGeometry() {
		return progressAlongRoute(delivery.Route.Geometry, point)
	}

	sender := delivery.Sender.Location
	receiver := delivery.Receiver.Location
	if sender.IsSentinel() || receiver.IsSentinel() {
		return 0
	}

	total := sender.Distance(receiver)
	if total == 0 {
		return 0
	}

	return clamp(geo.Haversine(sender.Coordinates, point) / total * 100)
}

func progressAlongRoute(geometry [][]float64, point []float64) float64 {
	total := geo.PolylineLength(geometry)
	if total == 0 {
		return 0
	}

	segment := geo.NearestSegment(geometry, point)
	start := geometry[segment]
	end := geometry[segment+1]

	travelled := geo.PolylineLength(geometry[:segment+1]) +
		math.Min(geo.Haversine(start, point), geo.Haversine(start, end))

	return clamp(travelled / total * 100)
}
