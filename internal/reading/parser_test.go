package reading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse([]byte("12.5,3.4182"))
	require.NoError(t, err)
	assert.Equal(t, 3.4182, p.Pressure)
	assert.Equal(t, "12.5", p.DeviceElapsed)
}

func TestParseTrimsWhitespace(t *testing.T) {
	p, err := Parse([]byte("  1.000, 10.0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.Pressure)
	assert.Equal(t, "1.000", p.DeviceElapsed)
}

func TestParseIgnoresDeviceElapsedValue(t *testing.T) {
	// the first field is informational and never validated
	p, err := Parse([]byte("not-a-number,14.6959"))
	require.NoError(t, err)
	assert.Equal(t, 14.6959, p.Pressure)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string][]byte{
		"no comma":      []byte("abc"),
		"empty":         []byte(""),
		"three fields":  []byte("1,2,3"),
		"empty second":  []byte("1.0,"),
		"non numeric":   []byte("1.0,psi"),
		"nan":           []byte("1.0,NaN"),
		"inf":           []byte("1.0,+Inf"),
		"invalid utf-8": {0xff, 0xfe, ',', '1'},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
