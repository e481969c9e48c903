package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected float64
		delta    float64
	}{
		{"same point", []float64{-0.1276, 51.5072}, []float64{-0.1276, 51.5072}, 0, 0.001},
		{"london to paris", []float64{-0.1276, 51.5072}, []float64{2.3522, 48.8566}, 343_500, 1_500},
		{"one degree of latitude", []float64{0, 0}, []float64{0, 1}, 111_195, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Haversine(tt.a, tt.b), tt.delta)
		})
	}
}

func TestInterpolate(t *testing.T) {
	a := []float64{0, 0}
	b := []float64{10, 20}

	assert.Equal(t, []float64{5, 10}, Interpolate(a, b, 0.5))
	assert.Equal(t, []float64{0, 0}, Interpolate(a, b, -1))
	assert.Equal(t, []float64{10, 20}, Interpolate(a, b, 2))
}

func TestPointAtDistance(t *testing.T) {
	line := [][]float64{{0, 0}, {0, 1}, {0, 2}}
	segment := Haversine(line[0], line[1])

	assert.Equal(t, []float64{0, 0}, PointAtDistance(line, -5))
	assert.Equal(t, []float64{0, 2}, PointAtDistance(line, 10*segment))

	mid := PointAtDistance(line, segment*1.5)
	assert.InDelta(t, 0, mid[0], 1e-9)
	assert.InDelta(t, 1.5, mid[1], 1e-9)

	assert.Nil(t, PointAtDistance(nil, 10))
}

func TestNormalizeBearing(t *testing.T) {
	tests := []struct {
		in       float64
		expected float64
	}{
		{-10, 350},
		{370, 10},
		{0, 0},
		{360, 0},
		{-720, 0},
		{45.5, 45.5},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, NormalizeBearing(tt.in), 1e-9, "bearing %v", tt.in)
	}
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing([]float64{0, 0}, []float64{0, 1}), 1e-6)
	assert.InDelta(t, 90, Bearing([]float64{0, 0}, []float64{1, 0}), 1e-6)
	assert.InDelta(t, 180, Bearing([]float64{0, 1}, []float64{0, 0}), 1e-6)
	assert.InDelta(t, 270, Bearing([]float64{1, 0}, []float64{0, 0}), 1e-6)
}

func TestNearestSegment(t *testing.T) {
	line := [][]float64{{0, 0}, {1, 0}, {2, 0}, {3, 0}}

	assert.Equal(t, 0, NearestSegment(line, []float64{0.2, 0.1}))
	assert.Equal(t, 2, NearestSegment(line, []float64{2.6, -0.1}))
	assert.InDelta(t, 0.5, DistanceFromLine([]float64{1.5, 0.5}, line[1], line[2]), 1e-9)
}
