package core

import "math"

// WGS-84 ellipsoid parameters (kilometres).
const (
	wgs84AKm = 6378.137
	wgs84F   = 1.0 / 298.257223563
	wgs84E2  = wgs84F * (2 - wgs84F)
)

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// GeodeticToECEF converts geodetic radians and metres to ECEF kilometres.
func GeodeticToECEF(latRad, lonRad, altM float64) Vec3 {
	sinLat, cosLat := math.Sincos(latRad)
	sinLon, cosLon := math.Sincos(lonRad)
	altKm := altM / 1000

	// Radius of curvature in the prime vertical.
	n := wgs84AKm / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Vec3{
		X: (n + altKm) * cosLat * cosLon,
		Y: (n + altKm) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + altKm) * sinLat,
	}
}

// lookAngles computes azimuth and elevation (radians) and range (km) from an
// observer to a target, both in ECEF kilometres, via the SEZ rotation.
// Azimuth is measured clockwise from north in [0, 2π).
func lookAngles(obs *Observer, target Vec3) (az, el, rng float64) {
	r := target.Sub(obs.ecef)

	sinLat, cosLat := math.Sincos(obs.Latitude)
	sinLon, cosLon := math.Sincos(obs.Longitude)

	south := sinLat*cosLon*r.X + sinLat*sinLon*r.Y - cosLat*r.Z
	east := -sinLon*r.X + cosLon*r.Y
	zenith := cosLat*cosLon*r.X + cosLat*sinLon*r.Y + sinLat*r.Z

	rng = math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 {
		return 0, math.Pi / 2, 0
	}
	el = math.Asin(zenith / rng)
	az = math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}
	return az, el, rng
}
