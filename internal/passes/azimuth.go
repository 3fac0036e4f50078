package passes

import "math"

// IsCrossingZero reports whether a pass rising at aosAz and setting at losAz
// (degrees) sweeps through north. A rotator that cannot wrap past 0/360 has
// to follow such a pass on the reversed hemisphere.
func IsCrossingZero(aosAz, losAz float64) bool {
	if losAz > 180 {
		return losAz-(aosAz+180) > 0
	}
	return losAz-(aosAz-180) < 0
}

// ReverseAzimuth returns the azimuth on the opposite side of the antenna,
// normalised to [0, 360).
func ReverseAzimuth(az float64) float64 {
	r := math.Mod(az+180, 360)
	if r < 0 {
		r += 360
	}
	return r
}

// ReverseElevation maps an elevation onto the flipped elevation axis used
// while following a zero-transition pass.
func ReverseElevation(el float64) float64 {
	return 180 - el
}
