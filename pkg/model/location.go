package model

import "github.com/parcelwatch/parcelwatch/pkg/geo"

type Location struct {
	Type        string    `json:"-" groups:"basic"`
	Coordinates []float64 `json:"coordinates" groups:"basic"`
}

func NewLocation(longitude float64, latitude float64) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{longitude, latitude},
	}
}

// GeoJSON returns the location as a valid GeoJSON point, falling back to
// [0,0] so the 2dsphere index accepts deliveries that were never located
func (l Location) GeoJSON() Location {
	if len(l.Coordinates) < 2 {
		return NewLocation(0, 0)
	}

	return NewLocation(l.Coordinates[0], l.Coordinates[1])
}

// IsSentinel reports whether the location is missing or still the [0,0]
// placeholder written before geocoding succeeds
func (l Location) IsSentinel() bool {
	if len(l.Coordinates) < 2 {
		return true
	}

	return l.Coordinates[0] == 0 && l.Coordinates[1] == 0
}

func (l Location) Distance(other Location) float64 {
	return geo.Haversine(l.Coordinates, other.Coordinates)
}

func (l Location) Longitude() float64 {
	if len(l.Coordinates) < 2 {
		return 0
	}
	return l.Coordinates[0]
}

func (l Location) Latitude() float64 {
	if len(l.Coordinates) < 2 {
		return 0
	}
	return l.Coordinates[1]
}
