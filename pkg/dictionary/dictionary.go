// Package dictionary loads an Ingenia-style .xdf register catalog (V2 flat
// or V3 hierarchical) into the typed register.Register model. A Dictionary
// is immutable from the moment Load returns.
package dictionary

import (
	"fmt"

	"github.com/ingenialink/gomcb/pkg/register"
)

// SubnodeKind classifies what a subnode represents.
type SubnodeKind uint8

const (
	Communication SubnodeKind = iota
	Motion
	Safety
)

// Interface is the transport a dictionary declares itself for.
type Interface string

const (
	InterfaceCAN     Interface = "CAN"
	InterfaceECAT    Interface = "ECAT"
	InterfaceEoE     Interface = "EoE"
	InterfaceETH     Interface = "ETH"
	InterfaceVirtual Interface = "VIRTUAL"
)

// ErrorEntry describes one entry of the dictionary's error table.
type ErrorEntry struct {
	Code           uint32
	CodeStr        string
	AffectedModule string
	Severity       string
	Description    string
}

// Category is one ordered, localized entry of the dictionary's category list.
type Category struct {
	ID    string
	Label string
}

// Dictionary is the immutable register catalog for one drive.
type Dictionary struct {
	Path            string
	Version         string // "2" or "3"
	FirmwareVersion string
	ProductCode     uint32
	RevisionNumber  uint32
	PartNumber      string
	Interface       Interface

	// NodeID is the CAN node identifier the dictionary declares; nil for
	// non-CAN dictionaries or when the attribute is absent.
	NodeID *uint8

	// Subnodes maps subnode number to its kind. Exactly one subnode (0) is
	// Communication.
	Subnodes map[uint8]SubnodeKind

	// Registers is the two-level catalog: subnode -> (uid -> Register).
	Registers map[uint8]map[string]*register.Register

	Errors     map[uint32]ErrorEntry
	Categories []Category

	// IsSafe reports whether the dictionary declares ETG_COMMS_RPDO_MAP256
	// or ETG_COMMS_TPDO_MAP256 on a non-zero subnode. pdo.Engine does not
	// read it; the engine's safe-drive gate is set through pdo.WithSafe.
	IsSafe bool

	// children records V3 hierarchical sub-objects: subnode -> parent uid
	// -> ordered child uids. Child registers also appear in Registers
	// under their own uid.
	children map[uint8]map[string][]string
}

// Register looks up a register by (subnode, uid).
func (d *Dictionary) Register(subnode uint8, uid string) (*register.Register, bool) {
	byUID, ok := d.Registers[subnode]
	if !ok {
		return nil, false
	}
	reg, ok := byUID[uid]
	return reg, ok
}

// ChildRegisters returns the sub-objects a V3 dictionary declares under
// the register uid on subnode, in declaration order. V2 dictionaries and
// registers without sub-objects return nil.
func (d *Dictionary) ChildRegisters(subnode uint8, uid string) []*register.Register {
	uids := d.children[subnode][uid]
	if len(uids) == 0 {
		return nil
	}
	out := make([]*register.Register, 0, len(uids))
	for _, childUID := range uids {
		if reg, ok := d.Registers[subnode][childUID]; ok {
			out = append(out, reg)
		}
	}
	return out
}

// validate enforces that every register's subnode
// is a key of Subnodes, and that identifiers are unique within their subnode
// (guaranteed by construction via the map, checked here for the
// subnode-membership half).
func (d *Dictionary) validate() error {
	if _, ok := d.Subnodes[0]; !ok {
		return fmt.Errorf("dictionary: no subnode 0 (communication) declared")
	}
	if d.Subnodes[0] != Communication {
		return fmt.Errorf("dictionary: subnode 0 must be Communication")
	}
	for subnode, regs := range d.Registers {
		if _, ok := d.Subnodes[subnode]; !ok {
			return fmt.Errorf("dictionary: register subnode %d is not declared in Subnodes", subnode)
		}
		for uid, reg := range regs {
			if reg.Identifier != uid {
				return fmt.Errorf("dictionary: register map key %q does not match identifier %q", uid, reg.Identifier)
			}
		}
	}
	return nil
}
