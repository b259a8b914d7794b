package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"4096", 4096, false},
		{"512B", 512, false},
		{"128Ki", 128 * KiB, false},
		{"128KiB", 128 * KiB, false},
		{"4mi", 4 * MiB, false},
		{"1GI", GiB, false},
		{"2Ti", 2 * TiB, false},
		{"1K", 1000, false},
		{"3MB", 3 * MB, false},
		{"1G", GB, false},
		{"  64 Ki ", 64 * KiB, false},
		{"1.5Mi", ByteSize(1.5 * float64(MiB)), false},
		{"", 0, true},
		{"Ki", 0, true},
		{"12XB", 0, true},
		{"-1", 0, true},
		{"1.2.3Mi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, v := range []ByteSize{0, 1000, 4 * KiB, 128 * KiB, 3 * MiB, GiB, 5 * TiB, 1536} {
		text, err := v.MarshalText()
		require.NoError(t, err)

		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, v, back, "text %q", text)
	}

	text, _ := (128 * KiB).MarshalText()
	assert.Equal(t, "128Ki", string(text))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.50KiB", ByteSize(1536).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
}

func TestInt(t *testing.T) {
	assert.Equal(t, 4096, (4 * KiB).Int())
	assert.Equal(t, int(^uint(0)>>1), ByteSize(^uint64(0)).Int())
}
