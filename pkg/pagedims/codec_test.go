package pagedims

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		dims []Dimension
		want string
	}{
		{"empty", []Dimension{}, ""},
		{"nil", nil, ""},
		{"single", []Dimension{{1200, 800}}, "1200,800"},
		{"distinct", []Dimension{{1200, 800}, {800, 1200}}, "1200,800;800,1200"},
		{"run", []Dimension{{1200, 800}, {1200, 800}, {1200, 800}}, "3>1200,800"},
		{
			"mixed",
			[]Dimension{{1200, 800}, {1200, 800}, {800, 1600}, {1200, 800}, {1200, 800}},
			"2>1200,800;800,1600;2>1200,800",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.dims))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]Dimension{
		{},
		{{0, 0}},
		{{10, 20}, {10, 20}},
		{{10, 20}, {20, 10}, {20, 10}, {20, 10}, {10, 20}},
		{{1, 1}, {2, 2}, {3, 3}, {3, 3}},
	}
	for _, dims := range cases {
		decoded, err := Decode(Encode(dims))
		require.NoError(t, err)
		assert.Equal(t, dims, decoded)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{"abc", "10", "x>10,20", "0>10,20", "10,y", "10,20;"} {
		_, err := Decode(s)
		assert.Error(t, err, s)
	}
}

func TestDecode_RunLengthCap(t *testing.T) {
	_, err := Decode("9223372036854775807>10,20")
	assert.Error(t, err)

	_, err = Decode("10,20;9223372036854775807>10,20")
	assert.Error(t, err)

	_, err = Decode("99999>10,20;2>10,20")
	assert.Error(t, err)

	dims, err := Decode(fmt.Sprintf("%d>10,20", MaxPages))
	require.NoError(t, err)
	assert.Len(t, dims, MaxPages)
}
