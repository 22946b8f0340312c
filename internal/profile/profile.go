// Package profile samples elevation and water-surface rasters along line
// geometries at regular stations, producing ordered cross-section profiles.
package profile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// Sample is one raster value at a station distance along a line.
type Sample struct {
	Distance float64
	Value    domain.Stat
}

// ProfilePoint combines terrain and water-surface elevation at one station.
type ProfilePoint struct {
	Distance float64
	Ground   domain.Stat
	Water    domain.Stat
}

// Length returns the planar arc length of a line.
func Length(line orb.LineString) float64 {
	var total float64
	for i := 1; i < len(line); i++ {
		total += planar.Distance(line[i-1], line[i])
	}
	return total
}

// Stations returns the station distances for a line: strictly increasing,
// starting at 0, stepping by interval, with the exact line length always
// included as the final station even when it is not a multiple of interval.
func Stations(line orb.LineString, interval float64) ([]float64, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("station interval must be positive, got %g", interval)
	}

	length := Length(line)
	if length == 0 {
		return []float64{0}, nil
	}

	var stations []float64
	// Multiply instead of accumulating so float drift cannot push a station
	// past the line length.
	for k := 0; ; k++ {
		d := float64(k) * interval
		if d >= length {
			break
		}
		stations = append(stations, d)
	}
	stations = append(stations, length)
	return stations, nil
}

// PointAt returns the coordinate at a given arc-length distance along the
// line, interpolating linearly between vertices. Distances beyond the line
// clamp to its endpoints.
func PointAt(line orb.LineString, distance float64) orb.Point {
	if len(line) == 0 {
		return orb.Point{}
	}
	if distance <= 0 {
		return line[0]
	}

	remaining := distance
	for i := 1; i < len(line); i++ {
		seg := planar.Distance(line[i-1], line[i])
		if remaining <= seg && seg > 0 {
			t := remaining / seg
			return orb.Point{
				line[i-1][0] + t*(line[i][0]-line[i-1][0]),
				line[i-1][1] + t*(line[i][1]-line[i-1][1]),
			}
		}
		remaining -= seg
	}
	return line[len(line)-1]
}

// SampleAtStations samples a raster at each station distance along the line.
// Stations outside the raster extent yield undefined values in place.
func SampleAtStations(line orb.LineString, stations []float64, raster *domain.RasterLayer) ([]Sample, error) {
	samples := make([]Sample, 0, len(stations))
	for _, d := range stations {
		v, err := raster.ValueAt(PointAt(line, d))
		if err != nil {
			return nil, err
		}
		samples = append(samples, Sample{Distance: d, Value: v})
	}
	return samples, nil
}

// BuildProfile samples DEM and WSE along the line at regular stations and
// merges them into one ordered profile, bounded within [0, line length].
func BuildProfile(line orb.LineString, dem, wse *domain.RasterLayer, interval float64) ([]ProfilePoint, error) {
	stations, err := Stations(line, interval)
	if err != nil {
		return nil, err
	}

	ground, err := SampleAtStations(line, stations, dem)
	if err != nil {
		return nil, err
	}
	water, err := SampleAtStations(line, stations, wse)
	if err != nil {
		return nil, err
	}

	points := make([]ProfilePoint, len(stations))
	for i, d := range stations {
		points[i] = ProfilePoint{Distance: d, Ground: ground[i].Value, Water: water[i].Value}
	}
	return points, nil
}
