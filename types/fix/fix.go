package fix

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/tidwall/gjson"
)

// Fix is a single raw position report from a positioning sensor.
// It is immutable once received; the pipeline either discards it or
// promotes it to an AcceptedPoint.
// Timestamp is Unix milliseconds. Accuracy <= 0 means unreported;
// the accuracy gate substitutes a default before comparing.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Speed     float64 `json:"speed,omitempty"`
}

// UnmarshalJSON tolerates the field spellings that different clients use.
// Latitude may arrive as latitude/lat, longitude as longitude/lng/lon,
// and the timestamp as millisecond-epoch "timestamp" or RFC3339 "time".
// Clients are not consistent, and a fix is not worth rejecting over a key name.
func (f *Fix) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)

	lat := firstNumber(res, "latitude", "lat")
	lng := firstNumber(res, "longitude", "lng", "lon")
	if lat == nil || lng == nil {
		return fmt.Errorf("fix missing coordinates: %s", string(data))
	}
	f.Latitude, f.Longitude = *lat, *lng

	if v := firstNumber(res, "accuracy", "acc"); v != nil {
		f.Accuracy = *v
	} else {
		f.Accuracy = 0
	}
	if v := firstNumber(res, "speed"); v != nil {
		f.Speed = *v
	} else {
		f.Speed = 0
	}

	if v := res.Get("timestamp"); v.Exists() && v.Type == gjson.Number {
		f.Timestamp = v.Int()
		return nil
	}
	if v := res.Get("time"); v.Exists() {
		t, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			return fmt.Errorf("fix time unparseable: %w", err)
		}
		f.Timestamp = t.UnixMilli()
		return nil
	}
	f.Timestamp = 0
	return nil
}

func firstNumber(res gjson.Result, keys ...string) *float64 {
	for _, k := range keys {
		if v := res.Get(k); v.Exists() && v.Type == gjson.Number {
			n := v.Float()
			return &n
		}
	}
	return nil
}

// Point returns the fix position as an orb point (x=lng, y=lat).
func (f *Fix) Point() orb.Point {
	return orb.Point{f.Longitude, f.Latitude}
}

// Time returns the fix timestamp as wall time.
// A zero or non-finite timestamp yields a zero time; the normalizer
// repairs those, it does not reject them.
func (f *Fix) Time() time.Time {
	if f.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.Timestamp)
}

// HasTimestamp reports whether the fix carries a usable timestamp.
func (f *Fix) HasTimestamp() bool {
	return f.Timestamp > 0 && f.Timestamp < math.MaxInt64
}

// Validate checks the fix for basic coordinate sanity.
// It returns the first error it encounters.
func (f *Fix) Validate() error {
	if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) {
		return fmt.Errorf("NaN coordinate")
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("invalid coordinate: lat=%.14f", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("invalid coordinate: lng=%.14f", f.Longitude)
	}
	return nil
}

func (f *Fix) StringPretty() string {
	return fmt.Sprintf("%v [%.5f,%.5f] +/-%.0fm %.2fm/s",
		f.Time().In(time.Local).Format("2006-01-02 15:04:05"),
		f.Latitude, f.Longitude, f.Accuracy, f.Speed)
}
