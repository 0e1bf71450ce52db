package gomcb

// Magic constants shared across layers: MCB node defaults, store/restore
// passwords, and the reserved CoE object indices for PDO mapping.

// DefaultNode is the MCB client node identifier used on the wire when no
// other value is configured.
const DefaultNode uint8 = 0x0A

// Store/restore magic passwords (§6.1). Writing one of these to the
// corresponding store-all/restore-all register is a fire-and-forget
// command; the drive may take hundreds of milliseconds to act on it.
const (
	// PasswordStoreAll is written to the COCO store-all register ("save").
	PasswordStoreAll uint32 = 0x65766173
	// PasswordRestoreAll is written to the COCO restore-all register ("load").
	PasswordRestoreAll uint32 = 0x64616F6C
	// PasswordStoreRestoreIP is the TCP/IP transport's store/restore password.
	PasswordStoreRestoreIP uint32 = 0x636F6D73
	// PasswordStoreRestoreSubnode0 is the subnode-0 store/restore password.
	PasswordStoreRestoreSubnode0 uint32 = 0x73756230
)

// Reserved CoE object indices used by the PDO engine to write RPDO/TPDO
// assignment and mapping (§6.2).
const (
	CoEIndexRPDOAssign uint16 = 0x1C12
	CoEIndexTPDOAssign uint16 = 0x1C13
	CoEIndexRPDOMap0   uint16 = 0x1600
	CoEIndexTPDOMap0   uint16 = 0x1A00
)

// CiA 402 control-word commands (§6.4). FaultReset is not a fixed value;
// it is the rising edge of bit 7 applied to the current control word.
const (
	ControlWordShutdown         uint16 = 0x06
	ControlWordSwitchOn         uint16 = 0x07
	ControlWordDisableVoltage   uint16 = 0x00
	ControlWordQuickStop        uint16 = 0x02
	ControlWordEnableOperation  uint16 = 0x0F
	ControlWordFaultResetBitPos        = 7
)
