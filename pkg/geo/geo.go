// Package geo holds the small amount of spherical and planar geometry the
// simulator needs. Points are always [longitude, latitude].
package geo

import "math"

const RadiusOfEarthInMeters = 6371010.0

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Haversine returns the great-circle distance in meters between two points
func Haversine(a []float64, b []float64) float64 {
	lat1 := radians(a[1])
	lat2 := radians(b[1])
	dLat := radians(b[1] - a[1])
	dLon := radians(b[0] - a[0])

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * RadiusOfEarthInMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Interpolate moves linearly from a to b on each axis. fraction is clamped to [0,1].
func Interpolate(a []float64, b []float64, fraction float64) []float64 {
	fraction = math.Max(0, math.Min(1, fraction))

	return []float64{
		a[0] + (b[0]-a[0])*fraction,
		a[1] + (b[1]-a[1])*fraction,
	}
}

func PolylineLength(points [][]float64) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1], points[i])
	}

	return total
}

// PointAtDistance walks the polyline segment by segment and returns the point
// that lies the given number of meters along it.
func PointAtDistance(points [][]float64, meters float64) []float64 {
	if len(points) == 0 {
		return nil
	}
	if meters <= 0 || len(points) == 1 {
		return []float64{points[0][0], points[0][1]}
	}

	walked := 0.0
	for i := 1; i < len(points); i++ {
		segment := Haversine(points[i-1], points[i])
		if walked+segment >= meters {
			if segment == 0 {
				return []float64{points[i][0], points[i][1]}
			}
			return Interpolate(points[i-1], points[i], (meters-walked)/segment)
		}
		walked += segment
	}

	last := points[len(points)-1]
	return []float64{last[0], last[1]}
}

// Bearing is the initial great-circle bearing from a to b in degrees [0,360)
func Bearing(a []float64, b []float64) float64 {
	lat1 := radians(a[1])
	lat2 := radians(b[1])
	dLon := radians(b[0] - a[0])

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeBearing(degrees(math.Atan2(y, x)))
}

func NormalizeBearing(deg float64) float64 {
	return math.Mod(math.Mod(deg, 360)+360, 360)
}

// DistanceFromLine is the planar distance from p to the segment a-b, in
// coordinate units. Shameless taken 'inspiration' from https://stackoverflow.com/a/6853926
func DistanceFromLine(p []float64, a []float64, b []float64) float64 {
	A := p[0] - a[0]
	B := p[1] - a[1]
	C := b[0] - a[0]
	D := b[1] - a[1]

	dot := A*C + B*D
	lenSq := C*C + D*D

	param := -1.0
	if lenSq != 0 {
		param = dot / lenSq
	}

	var xx, yy float64

	if param < 0 {
		xx = a[0]
		yy = a[1]
	} else if param > 1 {
		xx = b[0]
		yy = b[1]
	} else {
		xx = a[0] + param*C
		yy = a[1] + param*D
	}

	dx := p[0] - xx
	dy := p[1] - yy
	return math.Sqrt(dx*dx + dy*dy)
}

// NearestSegment returns the index of the segment start closest to p
func NearestSegment(points [][]float64, p []float64) int {
	best := 0
	bestDistance := math.Inf(1)

	for i := 1; i < len(points); i++ {
		distance := DistanceFromLine(p, points[i-1], points[i])
		if distance < bestDistance {
			bestDistance = distance
			best = i - 1
		}
	}

	return best
}
