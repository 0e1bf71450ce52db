package register

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripIntegers(t *testing.T) {
	cases := []struct {
		dtype DType
		value any
	}{
		{U8, uint64(0xAB)},
		{S8, int64(-12)},
		{U16, uint64(0xBEEF)},
		{S16, int64(-1000)},
		{U32, uint64(0xDEADBEEF)},
		{S32, int64(-123456)},
		{U64, uint64(0x0102030405060708)},
		{S64, int64(-1)},
		{Bool, true},
	}
	for _, c := range cases {
		encoded, err := Encode(c.dtype, c.value, c.dtype.Size())
		require.NoError(t, err)
		require.Len(t, encoded, c.dtype.Size())
		decoded, err := Decode(c.dtype, encoded)
		require.NoError(t, err)
		switch c.dtype {
		case U8:
			require.EqualValues(t, c.value, decoded)
		case S8, S16, S32, S64:
			require.EqualValues(t, c.value, decoded)
		case U16, U32, U64:
			require.EqualValues(t, c.value, decoded)
		case Bool:
			require.Equal(t, c.value, decoded)
		}
	}
}

func TestFloatRoundTripMatchesBusVoltVector(t *testing.T) {
	// From the seed scenario: 25.5 encodes to little-endian 0x41CC0000.
	encoded, err := Encode(Float, float64(25.5), 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0xCC, 0x41}, encoded)

	decoded, err := Decode(Float, encoded)
	require.NoError(t, err)
	require.EqualValues(t, float32(25.5), decoded)
}

func TestStringEncodeNulPadsAndDecodeTrims(t *testing.T) {
	encoded, err := Encode(Str, "hi", 8)
	require.NoError(t, err)
	require.Len(t, encoded, 8)
	require.Equal(t, []byte{'h', 'i', 0, 0, 0, 0, 0, 0}, encoded)

	decoded, err := Decode(Str, encoded)
	require.NoError(t, err)
	require.Equal(t, "hi", decoded)
}

func TestStringExtendedWrite(t *testing.T) {
	s := "http://www.ingeniamc.com"
	encoded, err := Encode(Str, s, len(s))
	require.NoError(t, err)
	require.Len(t, encoded, 24)
	require.Equal(t, s, string(encoded))
}

func TestParseDTypeUnknownReportsNotOK(t *testing.T) {
	_, ok := ParseDType("not-a-real-dtype")
	require.False(t, ok)
}

func TestByteArray512PassesChunkThrough(t *testing.T) {
	// Monitoring/disturbance chunks are variable-length slices of the
	// 512-byte buffer register; the bytes go on the wire as-is.
	encoded, err := Encode(ByteArray512, []byte{1, 2, 3}, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, encoded)

	_, err = Encode(ByteArray512, make([]byte, 513), 0)
	require.Error(t, err)
}

func TestParseValueByDType(t *testing.T) {
	cases := []struct {
		dtype DType
		text  string
		want  any
	}{
		{U16, "7", uint16(7)},
		{U32, "0x2008", uint32(0x2008)},
		{S32, "-100", int32(-100)},
		{Float, "25.5", float32(25.5)},
		{Bool, "1", true},
		{Str, "EVE-XCR", "EVE-XCR"},
		{ByteArray512, "0102ff", []byte{1, 2, 0xFF}},
	}
	for _, c := range cases {
		got, err := ParseValue(c.dtype, c.text)
		require.NoError(t, err, c.text)
		require.Equal(t, c.want, got)
	}

	_, err := ParseValue(U16, "not-a-number")
	require.Error(t, err)
}

func TestDefaultRangeDerivedFromDType(t *testing.T) {
	r := DefaultRange(S16)
	require.NotNil(t, r)
	require.Equal(t, int64(-32768), r.Min)
	require.Equal(t, int64(32767), r.Max)

	require.Nil(t, DefaultRange(U64))
	require.Nil(t, DefaultRange(Str))
	require.Nil(t, DefaultRange(Float))
}
