package dictionary

import (
	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/pkg/register"
)

// appendReservedRegisters adds transport-specific registers that are
// always present on the drive but never listed in the XML: for EtherCAT,
// the RPDO/TPDO assign and map registers; for every transport, the
// monitoring and disturbance byte-buffer registers.
func appendReservedRegisters(d *Dictionary) {
	ensureSubnode(d, 0)

	if d.Interface == InterfaceECAT {
		reserved := []*register.Register{
			{Identifier: "IO_OUT_RPDO_ASSIGN", DType: register.U16, Access: register.RW, Cyclic: register.Config,
				Address: register.ECATAddress{Index: gomcb.CoEIndexRPDOAssign, SubIndex: 0}},
			{Identifier: "IO_OUT_RPDO_MAP0", DType: register.ByteArray512, Access: register.RW, Cyclic: register.Config,
				Address: register.ECATAddress{Index: gomcb.CoEIndexRPDOMap0, SubIndex: 0}},
			{Identifier: "IO_IN_TPDO_ASSIGN", DType: register.U16, Access: register.RW, Cyclic: register.Config,
				Address: register.ECATAddress{Index: gomcb.CoEIndexTPDOAssign, SubIndex: 0}},
			{Identifier: "IO_IN_TPDO_MAP0", DType: register.ByteArray512, Access: register.RW, Cyclic: register.Config,
				Address: register.ECATAddress{Index: gomcb.CoEIndexTPDOMap0, SubIndex: 0}},
		}
		for _, reg := range reserved {
			insertIfAbsent(d, 0, reg)
		}
	}

	var monAddr, distAddr register.Address
	switch d.Interface {
	case InterfaceCAN:
		monAddr, distAddr = register.CoEAddress{Index: 0x58B2, SubIndex: 0}, register.CoEAddress{Index: 0x58B4, SubIndex: 0}
	case InterfaceECAT:
		monAddr, distAddr = register.ECATAddress{Index: 0x58B2, SubIndex: 0}, register.ECATAddress{Index: 0x58B4, SubIndex: 0}
	default:
		monAddr, distAddr = register.IPAddress{Addr: 0xA20}, register.IPAddress{Addr: 0xA40}
	}

	insertIfAbsent(d, 0, &register.Register{
		Identifier: "MON_DATA_VALUE", DType: register.ByteArray512, Access: register.RO,
		Cyclic: register.Config, Address: monAddr,
	})
	insertIfAbsent(d, 0, &register.Register{
		Identifier: "DIST_DATA_VALUE", DType: register.ByteArray512, Access: register.WO,
		Cyclic: register.Config, Address: distAddr,
	})
}

func ensureSubnode(d *Dictionary, subnode uint8) {
	if d.Registers[subnode] == nil {
		d.Registers[subnode] = map[string]*register.Register{}
	}
}

func insertIfAbsent(d *Dictionary, subnode uint8, reg *register.Register) {
	if _, exists := d.Registers[subnode][reg.Identifier]; exists {
		return
	}
	reg.Subnode = subnode
	reg.StorageValid = true
	d.Registers[subnode][reg.Identifier] = reg
}
