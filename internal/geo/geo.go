package geo

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

type Point struct {
	Lat float64
	Lng float64
}

// Bucket maps a coordinate to a short stable key. Coordinates that round to
// the same value at the given precision share a bucket. Buckets are only a
// coarse pre-filter; adjacency across bucket edges is not captured.
func Bucket(lat, lng float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	key := strconv.FormatFloat(round(lat, precision), 'f', precision, 64) + "," +
		strconv.FormatFloat(round(lng, precision), 'f', precision, 64)
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))[:8]
}

// Distance returns the great-circle distance in meters (haversine).
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

func Within(a, b Point, radiusMeters float64) bool {
	return Distance(a, b) <= radiusMeters
}

// round rounds half away from zero and folds -0 into 0 so both sides of the
// equator and the meridian format identically.
func round(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0
	}
	return r
}
