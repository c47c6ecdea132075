package reading

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Payload is a decoded sensor message. DeviceElapsed is the sensor's own
// elapsed counter; it is kept for diagnostics only, the timeline is computed
// from local receipt times.
type Payload struct {
	DeviceElapsed string
	Pressure      float64
}

// Parse decodes a "<elapsed>,<pressure>" notification.
func Parse(raw []byte) (Payload, error) {
	if !utf8.Valid(raw) {
		return Payload{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedPayload)
	}

	fields := strings.Split(strings.TrimSpace(string(raw)), ",")
	if len(fields) != 2 {
		return Payload{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformedPayload, len(fields))
	}

	pressure, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: pressure %q: %v", ErrMalformedPayload, fields[1], err)
	}
	if math.IsNaN(pressure) || math.IsInf(pressure, 0) {
		return Payload{}, fmt.Errorf("%w: pressure %q is not finite", ErrMalformedPayload, fields[1])
	}

	return Payload{
		DeviceElapsed: strings.TrimSpace(fields[0]),
		Pressure:      pressure,
	}, nil
}
