package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONConverterRoundTrip(t *testing.T) {
	conv := JSONConverter{}
	require.True(t, conv.CanConvert("anything"))

	data, err := conv.ToPayload(map[string]string{"to": "a@b.com"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, conv.FromPayload(data, &out))
	require.Equal(t, "a@b.com", out["to"])
}

func TestDecodePayloadWrapsCodecError(t *testing.T) {
	var out int
	err := decodePayload([]MessageConverter{JSONConverter{}}, []byte("not-json"), &out)
	require.Error(t, err)

	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)
}
