package dictionary

import (
	"testing"

	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/stretchr/testify/require"
)

func TestLoadEthernetV2(t *testing.T) {
	d, err := Load("testdata/eth_v2.xdf", InterfaceETH)
	require.NoError(t, err)
	require.Equal(t, "2", d.Version)
	require.Equal(t, uint32(1234), d.ProductCode)
	require.Equal(t, uint32(1), d.RevisionNumber)

	reg, ok := d.Register(1, "DRV_BUS_VOLT")
	require.True(t, ok)
	require.Equal(t, register.Float, reg.DType)
	require.Equal(t, register.RO, reg.Access)
	require.Equal(t, register.IPAddress{Addr: 0x630}, reg.Address)

	opCmd, ok := d.Register(1, "DRV_OP_CMD")
	require.True(t, ok)
	require.NotNil(t, opCmd.Range)
	require.Equal(t, uint16(0), opCmd.Range.Min)
	require.Equal(t, uint16(10), opCmd.Range.Max)

	status, ok := d.Register(1, "DRV_STATUS_WORD")
	require.True(t, ok)
	field, ok := status.Field("fault")
	require.True(t, ok)
	require.Equal(t, 3, field.StartBit)

	// Registers without an explicit Range get the dtype-derived default.
	require.NotNil(t, status.Range)
	require.Equal(t, int64(0xFFFF), status.Range.Max)

	entry, ok := d.Errors[0x06010000]
	require.True(t, ok)
	require.Equal(t, "Generic error", entry.Description)

	// Reserved monitoring/disturbance registers are auto-appended.
	_, ok = d.Register(0, "MON_DATA_VALUE")
	require.True(t, ok)
	_, ok = d.Register(0, "DIST_DATA_VALUE")
	require.True(t, ok)
}

func TestLoadCANopenV2AddressSplit(t *testing.T) {
	d, err := Load("testdata/can_v2.xdf", InterfaceCAN)
	require.NoError(t, err)

	reg, ok := d.Register(1, "CL_POS_FBK_VALUE")
	require.True(t, ok)
	require.Equal(t, register.CoEAddress{Index: 0x2008, SubIndex: 0x01}, reg.Address)

	require.NotNil(t, d.NodeID)
	require.EqualValues(t, 32, *d.NodeID)
}

func TestLoadEtherCATV3Hierarchical(t *testing.T) {
	d, err := Load("testdata/ecat_v3.xdf", InterfaceECAT)
	require.NoError(t, err)
	require.Equal(t, "3", d.Version)

	reg, ok := d.Register(1, "CL_POS_FBK_VALUE")
	require.True(t, ok)
	require.Equal(t, register.ECATAddress{Index: 0x2010, SubIndex: 0x01}, reg.Address)

	// Per-register defaults.
	opCmd, ok := d.Register(1, "DRV_OP_CMD")
	require.True(t, ok)
	require.Equal(t, uint16(5), opCmd.Default)

	// Structured objects: Object-element addressing and sub-registers.
	parent, ok := d.Register(1, "FBK_BISS1_SSI1_POS_FLAGS")
	require.True(t, ok)
	require.Equal(t, register.ECATAddress{Index: 0x2030, SubIndex: 0x00}, parent.Address)

	children := d.ChildRegisters(1, "FBK_BISS1_SSI1_POS_FLAGS")
	require.Len(t, children, 2)
	require.Equal(t, "FBK_BISS1_SSI1_POS_ST_BITS", children[0].Identifier)
	require.Equal(t, register.ECATAddress{Index: 0x2030, SubIndex: 0x02}, children[1].Address)
	_, ok = d.Register(1, "FBK_BISS1_SSI1_POS_MT_BITS")
	require.True(t, ok)

	// EtherCAT reserved PDO-mapping registers are auto-appended under subnode 0.
	_, ok = d.Register(0, "IO_OUT_RPDO_MAP0")
	require.True(t, ok)
	_, ok = d.Register(0, "IO_IN_TPDO_MAP0")
	require.True(t, ok)
}

func TestLoadInterfaceMismatch(t *testing.T) {
	_, err := Load("testdata/eth_v2.xdf", InterfaceCAN)
	require.Error(t, err)
	var parseErr *gomcb.DictionaryParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("testdata/does_not_exist.xdf", "")
	require.Error(t, err)
}
