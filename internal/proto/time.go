package proto

import (
	"bytes"
	"strconv"
	"time"
)

// Time is a wall-clock instant encoded on the wire as fractional Unix
// seconds.
type Time struct {
	time.Time
}

// Now returns the current time as a [Time].
func Now() Time {
	return Time{time.Now()}
}

// Seconds returns t as fractional Unix seconds.
func (t Time) Seconds() float64 {
	return float64(t.UnixMicro()) / 1e6
}

// MarshalJSON implements the [json.Marshaler] interface.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, t.Seconds(), 'f', 6, 64), nil
}

// UnmarshalJSON implements the [json.Unmarshaler] interface.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Time{}
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	sec := int64(f)
	t.Time = time.Unix(sec, int64((f-float64(sec))*1e9)).Round(time.Microsecond)
	return nil
}
