package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationParsing(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"30s", 30 * time.Second},
		{"2d", 48 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1w2d12h", 9*24*time.Hour + 12*time.Hour},
		{"90", 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDuration(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.Duration())
		})
	}

	_, err := ParseDuration("bogus")
	assert.Error(t, err)
}

func TestDurationUnmarshalYAML(t *testing.T) {
	var cfg struct {
		Retention Duration `yaml:"retention"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("retention: 2d"), &cfg))
	assert.Equal(t, 48*time.Hour, cfg.Retention.Duration())

	// Raw nanosecond numbers are accepted too.
	require.NoError(t, yaml.Unmarshal([]byte("retention: 1000000000"), &cfg))
	assert.Equal(t, time.Second, cfg.Retention.Duration())

	assert.Error(t, yaml.Unmarshal([]byte("retention: bogus"), &cfg))
}

func TestDurationJSONRoundTrip(t *testing.T) {
	d := Duration(9*24*time.Hour + 12*time.Hour)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1w2d12h0m0s"`, string(data))

	var back Duration
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
}

func TestDurationString(t *testing.T) {
	tests := []struct {
		input    Duration
		expected string
	}{
		{Duration(0), "0s"},
		{Duration(30 * time.Second), "30s"},
		{Duration(48 * time.Hour), "2d"},
		{Duration(7 * 24 * time.Hour), "1w"},
		{Duration(9*24*time.Hour + 12*time.Hour), "1w2d12h0m0s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.input.String())
	}
}

func TestByteSizeParsing(t *testing.T) {
	b, err := ParseByteSize("5MB")
	require.NoError(t, err)
	assert.Equal(t, int64(5*1024*1024), b.Bytes())

	b, err = ParseByteSize("1024")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), b.Bytes())

	_, err = ParseByteSize("5XB")
	assert.Error(t, err)
}

func TestByteSizeUnmarshalYAML(t *testing.T) {
	var cfg struct {
		MaxSize ByteSize `yaml:"max_size"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("max_size: 2GB"), &cfg))
	assert.Equal(t, int64(2*1024*1024*1024), cfg.MaxSize.Bytes())

	require.NoError(t, yaml.Unmarshal([]byte("max_size: 4096"), &cfg))
	assert.Equal(t, int64(4096), cfg.MaxSize.Bytes())
}

func TestByteSizeJSONRoundTrip(t *testing.T) {
	b := ByteSize(5 * 1024 * 1024)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, `"5MB"`, string(data))

	var back ByteSize
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, b, back)
}
