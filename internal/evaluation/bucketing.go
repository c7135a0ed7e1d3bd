package evaluation

import (
	"crypto/md5" //nolint:gosec // not used for security, the hash just needs to be stable across SDKs
	"encoding/binary"
	"math"
)

// hitsPercentage reports whether the given key falls inside the half-open
// percentage range [lo, hi). The full range [0, 1] matches unconditionally,
// without hashing.
func hitsPercentage(key string, lo, hi float64) bool {
	if lo == 0 && hi == 1 {
		return true
	}
	p := percentageOfKey(key)
	return p >= lo && p < hi
}

// percentageOfKey maps a key to a stable value in [0, 1]. The first four
// bytes of the MD5 digest are read as a little-endian signed integer; the
// magnitude relative to math.MinInt32 gives the percentage. This must match
// the other FeatBit SDKs bit for bit, or the same user would land in
// different buckets depending on the SDK.
func percentageOfKey(key string) float64 {
	digest := md5.Sum([]byte(key)) //nolint:gosec
	n := int32(binary.LittleEndian.Uint32(digest[:4]))
	return math.Abs(float64(n) / float64(math.MinInt32))
}
