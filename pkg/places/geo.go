package places

import (
	"math"
	"regexp"
	"strings"
)

// EarthRadiusMeters is the IUGG mean radius.
const EarthRadiusMeters = 6371008.8

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// BoundingBox returns the lat/lng window containing every point within meters
// of the origin. Stores use it to prefilter before the exact distance check.
func BoundingBox(lat, lng, meters float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := meters / EarthRadiusMeters * 180 / math.Pi
	cos := math.Cos(lat * math.Pi / 180)
	dLng := 180.0
	if cos > 1e-9 {
		dLng = min(180, dLat/cos)
	}
	return lat - dLat, lat + dLat, lng - dLng, lng + dLng
}

var unitPattern = regexp.MustCompile(`(?i)(?:\b(?:apt|apartment|unit|suite|ste|spc|space)\b\.?\s*#?|#)\s*([a-z0-9][a-z0-9-]*)\b`)

// DetectUnit extracts an apartment, suite or space identifier from an address.
func DetectUnit(address string) string {
	m := unitPattern.FindStringSubmatch(address)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
