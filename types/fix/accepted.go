package fix

import (
	"time"

	"github.com/paulmach/orb"
)

// AcceptedPoint is a fix that has cleared every gate.
// Its timestamp has been normalized to be strictly greater than the
// previously accepted point's, and its accuracy defaulted if unreported.
// Exactly one AcceptedPoint is the "last recorded point" of a session
// at any time.
type AcceptedPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
	Accuracy  float64 `json:"accuracy"`
}

func (p AcceptedPoint) Point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

func (p AcceptedPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Promote builds an AcceptedPoint from a fix whose timestamp has already
// been normalized and whose accuracy has already been defaulted.
func Promote(f *Fix, accuracy float64, timestamp int64) AcceptedPoint {
	return AcceptedPoint{
		Lat:       f.Latitude,
		Lng:       f.Longitude,
		Timestamp: timestamp,
		Accuracy:  accuracy,
	}
}
