package register

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestECATSubnodeOffset(t *testing.T) {
	require.EqualValues(t, 0x5800, ECATSubnodeOffset(0))
	require.EqualValues(t, 0x2000, ECATSubnodeOffset(1))
	require.EqualValues(t, 0x2800, ECATSubnodeOffset(2))
	require.EqualValues(t, 0x3000, ECATSubnodeOffset(3))
}

func TestBitfieldMaskAndWidth(t *testing.T) {
	b := Bitfield{Name: "mode", StartBit: 4, EndBit: 7}
	require.Equal(t, 4, b.Width())
	require.EqualValues(t, 0xF0, b.Mask())
}

func TestRegisterInRange(t *testing.T) {
	r := &Register{
		Identifier: "DRV_OP_MODE",
		DType:      U16,
		Range:      &Range{Min: int64(0), Max: int64(10)},
	}
	require.True(t, r.InRange(int64(5)))
	require.False(t, r.InRange(int64(11)))
}

func TestRegisterWithoutRangeAlwaysInRange(t *testing.T) {
	r := &Register{Identifier: "DRV_HW_VERSION", DType: Str}
	require.True(t, r.InRange("anything"))
}

func TestCyclicMappability(t *testing.T) {
	require.True(t, CyclicRX.MappableRPDO())
	require.True(t, CyclicRXTX.MappableRPDO())
	require.False(t, CyclicTX.MappableRPDO())

	require.True(t, CyclicTX.MappableTPDO())
	require.True(t, CyclicRXTX.MappableTPDO())
	require.False(t, CyclicRX.MappableTPDO())
}
