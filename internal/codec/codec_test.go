package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	type inner struct {
		B string `codec:"b"`
		A int64  `codec:"a"`
	}
	in := inner{B: "hello", A: 42}

	data, err := Encode(in)
	require.NoError(t, err)

	var out inner
	require.NoError(t, Decode(data, &out))
	require.Equal(t, in, out)
}

func TestEncodeIsDeterministicAcrossMapOrder(t *testing.T) {
	m1 := map[string]interface{}{"zz": 1, "a": 2, "mm": 3}
	m2 := map[string]interface{}{"mm": 3, "zz": 1, "a": 2}

	b1, err := Encode(m1)
	require.NoError(t, err)
	b2, err := Encode(m2)
	require.NoError(t, err)

	require.Equal(t, b1, b2, "canonical encoding must be independent of Go map iteration order")
}

func TestDecodeOfGenericValue(t *testing.T) {
	data, err := Encode(map[string]interface{}{"x": int64(1), "y": "z"})
	require.NoError(t, err)

	var v map[string]interface{}
	require.NoError(t, Decode(data, &v))
	require.Len(t, v, 2)
}
