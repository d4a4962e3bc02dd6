package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Limit   ByteSize      `mapstructure:"limit"`
	TTL     time.Duration `mapstructure:"ttl"`
	Servers []string      `mapstructure:"servers"`
	Port    int           `mapstructure:"port"`
	Enabled bool          `mapstructure:"enabled"`
	Nested  struct {
		Window int64 `mapstructure:"window"`
	} `mapstructure:"nested"`
}

func TestDecodeLooseInput(t *testing.T) {
	out, err := Decode[sample](map[string]any{
		"limit":   "10MiB",
		"ttl":     "90s",
		"servers": "nats://a:4222,nats://b:4222",
		"port":    "8080",
		"enabled": "true",
		"nested":  map[string]any{"window": 50.0},
	})
	require.NoError(t, err)
	assert.Equal(t, ByteSize(10<<20), out.Limit)
	assert.Equal(t, 90*time.Second, out.TTL)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, out.Servers)
	assert.Equal(t, 8080, out.Port)
	assert.True(t, out.Enabled)
	assert.Equal(t, int64(50), out.Nested.Window)
	assert.Equal(t, "10 MiB", out.Limit.String())
}

func TestDecodeByteSizeForms(t *testing.T) {
	for raw, want := range map[string]ByteSize{"1024": 1024, "1KB": 1000, "2 MiB": 2 << 20, "": 0} {
		out, err := Decode[sample](map[string]any{"limit": raw})
		require.NoError(t, err, raw)
		assert.Equal(t, want, out.Limit, raw)
	}
	_, err := Decode[sample](map[string]any{"limit": "lots"})
	assert.Error(t, err)
}
