package dictionary

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/sirupsen/logrus"
)

// rawXDF is the tolerant intermediate unmarshal target: unknown attributes
// are simply not captured (encoding/xml ignores them), mirroring the
// teacher's declarative-parser idiom of mapping attribute names to typed
// fields while tolerating the rest.
type rawXDF struct {
	XMLName xml.Name `xml:"IngeniaDictionary"`
	Header  struct {
		Version string `xml:"Version"`
	} `xml:"Header"`
	Body struct {
		Device     rawDevice    `xml:"Device"`
		Errors     rawErrors    `xml:"Errors"`
		Categories rawCategories `xml:"Categories"`
	} `xml:"Body"`
}

type rawDevice struct {
	Interface       string    `xml:"Interface,attr"`
	FirmwareVersion string    `xml:"firmwareVersion,attr"`
	ProductCode     string    `xml:"ProductCode,attr"`
	PartNumber      string    `xml:"PartNumber,attr"`
	RevisionNumber  string    `xml:"RevisionNumber,attr"`
	NodeID          string    `xml:"NodeID,attr"`
	Axes            rawAxes   `xml:"Axes"`
	Registers       rawRegs   `xml:"Registers"`
}

type rawAxes struct {
	Axis []rawAxis `xml:"Axis"`
}

type rawAxis struct {
	Subnode   string  `xml:"subnode,attr"`
	Registers rawRegs `xml:"Registers"`
}

type rawRegs struct {
	Register []rawRegister `xml:"Register"`
}

type rawRegister struct {
	ID          string `xml:"id,attr"`
	DType       string `xml:"dtype,attr"`
	Access      string `xml:"access,attr"`
	Subnode     string `xml:"subnode,attr"`
	Cyclic      string `xml:"cyclic,attr"`
	AddressType string `xml:"address_type,attr"`
	Address     string `xml:"address,attr"`
	Storage     string `xml:"storage,attr"`
	Default     string `xml:"default,attr"`
	Units       string `xml:"units,attr"`
	CatID       string `xml:"cat_id,attr"`
	Desc        string `xml:"desc,attr"`

	// V3 hierarchical addressing: either index/subindex attributes or an
	// explicit Object child.
	Index    string     `xml:"index,attr"`
	SubIndex string     `xml:"subindex,attr"`
	Object   *rawObject `xml:"Object"`

	// V3 sub-objects: nested Register children of a structured object.
	Children []rawRegister `xml:"Register"`

	Labels rawLabels    `xml:"Labels"`
	Range  *rawRange    `xml:"Range"`
	Enums  rawEnums     `xml:"Enumerations"`
	Bits   rawBitfields `xml:"BitFields"`
}

type rawObject struct {
	Index    string `xml:"index,attr"`
	SubIndex string `xml:"subindex,attr"`
}

type rawLabels struct {
	Label []rawLabel `xml:"Label"`
}

type rawLabel struct {
	Lang string `xml:"lang,attr"`
	Text string `xml:",chardata"`
}

type rawRange struct {
	Min string `xml:"min,attr"`
	Max string `xml:"max,attr"`
}

type rawEnums struct {
	Enum []rawEnum `xml:"Enum"`
}

type rawEnum struct {
	Value string `xml:"value,attr"`
	Text  string `xml:",chardata"`
}

type rawBitfields struct {
	BitField []rawBitfield `xml:"BitField"`
}

type rawBitfield struct {
	Name  string `xml:"name,attr"`
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
}

type rawErrors struct {
	Error []rawError `xml:"Error"`
}

type rawError struct {
	ID             string    `xml:"id,attr"`
	AffectedModule string    `xml:"affected_module,attr"`
	ErrorType      string    `xml:"error_type,attr"`
	Labels         rawLabels `xml:"Labels"`
}

type rawCategories struct {
	Category []rawCategory `xml:"Category"`
}

type rawCategory struct {
	ID     string    `xml:"id,attr"`
	Labels rawLabels `xml:"Labels"`
}

// Load parses the .xdf file at path and builds its typed Dictionary. If
// requested is non-empty, the dictionary's declared Interface must match
// it or Load fails with a DictionaryParseError.
func Load(path string, requested Interface) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err // FileNotFound propagates verbatim
	}

	var raw rawXDF
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", gomcb.ErrParse, path, err)
	}

	majorVersion := "2"
	if raw.Header.Version != "" {
		majorVersion = strings.SplitN(raw.Header.Version, ".", 2)[0]
	}

	iface := Interface(raw.Body.Device.Interface)
	if requested != "" && iface != requested {
		return nil, &gomcb.DictionaryParseError{Path: path, Declared: string(iface), Requested: string(requested)}
	}

	d := &Dictionary{
		Path:            path,
		Version:         majorVersion,
		FirmwareVersion: raw.Body.Device.FirmwareVersion,
		PartNumber:      raw.Body.Device.PartNumber,
		Interface:       iface,
		Subnodes:        map[uint8]SubnodeKind{0: Communication},
		Registers:       map[uint8]map[string]*register.Register{0: {}},
		Errors:          map[uint32]ErrorEntry{},
	}
	if pc, err := strconv.ParseUint(raw.Body.Device.ProductCode, 10, 32); err == nil {
		d.ProductCode = uint32(pc)
	}
	if rn, err := strconv.ParseUint(raw.Body.Device.RevisionNumber, 10, 32); err == nil {
		d.RevisionNumber = uint32(rn)
	}
	if raw.Body.Device.NodeID != "" {
		if id, err := strconv.ParseUint(raw.Body.Device.NodeID, 10, 8); err == nil {
			nodeID := uint8(id)
			d.NodeID = &nodeID
		}
	}

	// Axes (optional): one subnode per axis; absent -> single-axis {0,1}.
	if len(raw.Body.Device.Axes.Axis) > 0 {
		for _, axis := range raw.Body.Device.Axes.Axis {
			sub, err := strconv.ParseUint(axis.Subnode, 10, 8)
			if err != nil {
				continue
			}
			subnode := uint8(sub)
			d.Subnodes[subnode] = Motion
			d.Registers[subnode] = map[string]*register.Register{}
			for _, rr := range axis.Registers.Register {
				addRegister(d, rr, majorVersion, iface, subnode)
			}
		}
	} else {
		d.Subnodes[1] = Motion
		d.Registers[1] = map[string]*register.Register{}
		for _, rr := range raw.Body.Device.Registers.Register {
			addRegister(d, rr, majorVersion, iface, 1)
		}
	}

	for _, e := range raw.Body.Errors.Error {
		code, err := strconv.ParseUint(strings.TrimPrefix(e.ID, "0x"), 16, 32)
		if err != nil {
			continue
		}
		d.Errors[uint32(code)] = ErrorEntry{
			Code:           uint32(code),
			CodeStr:        e.ID,
			AffectedModule: e.AffectedModule,
			Severity:       e.ErrorType,
			Description:    labelText(e.Labels),
		}
	}

	for _, c := range raw.Body.Categories.Category {
		d.Categories = append(d.Categories, Category{ID: c.ID, Label: labelText(c.Labels)})
	}

	for subnode, regs := range d.Registers {
		for _, reg := range regs {
			reg.StorageValid = true
			if reg.Identifier == "ETG_COMMS_RPDO_MAP256" || reg.Identifier == "ETG_COMMS_TPDO_MAP256" {
				if subnode != 0 {
					d.IsSafe = true
				}
			}
		}
	}

	appendReservedRegisters(d)

	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", gomcb.ErrCreation, err)
	}
	return d, nil
}

func labelText(labels rawLabels) string {
	for _, l := range labels.Label {
		if l.Lang == "en_US" || l.Lang == "" {
			return l.Text
		}
	}
	if len(labels.Label) > 0 {
		return labels.Label[0].Text
	}
	return ""
}

// addRegister converts one raw XML register into a typed Register and
// inserts it, skipping (with a log) on any unknown/malformed dtype or
// access, or an address that does not parse, rather than failing the
// whole dictionary. The address_type attribute is not read: a register
// with an unknown address_type is loaded like any other.
func addRegister(d *Dictionary, rr rawRegister, majorVersion string, iface Interface, defaultSubnode uint8) {
	log := logrus.WithFields(logrus.Fields{"dictionary": d.Path, "register": rr.ID})

	if rr.ID == "" {
		log.Warn("dictionary: register with no id, skipping")
		return
	}

	dtype, ok := register.ParseDType(rr.DType)
	if !ok {
		log.WithField("dtype", rr.DType).Warn("dictionary: unknown dtype, skipping register")
		return
	}

	access, ok := parseAccess(rr.Access)
	if !ok {
		log.WithField("access", rr.Access).Warn("dictionary: unknown access, skipping register")
		return
	}

	cyclic := parseCyclic(rr.Cyclic)

	subnode := defaultSubnode
	if rr.Subnode != "" {
		if v, err := strconv.ParseUint(rr.Subnode, 10, 8); err == nil {
			subnode = uint8(v)
		}
	}

	addr, err := parseAddress(rr, majorVersion, iface, subnode)
	if err != nil {
		log.WithError(err).Warn("dictionary: unparseable address, skipping register")
		return
	}

	reg := &register.Register{
		Identifier: rr.ID,
		DType:      dtype,
		Access:     access,
		Cyclic:     cyclic,
		Subnode:    subnode,
		Address:    addr,
	}

	if rr.Range != nil {
		if r, err := parseRange(dtype, rr.Range); err == nil {
			reg.Range = r
		} else {
			log.WithError(err).Warn("dictionary: unparseable range, falling back to dtype default")
			reg.Range = register.DefaultRange(dtype)
		}
	} else {
		reg.Range = register.DefaultRange(dtype)
	}
	if len(rr.Enums.Enum) > 0 {
		reg.Enums = map[string]int64{}
		for _, e := range rr.Enums.Enum {
			if v, err := strconv.ParseInt(e.Value, 10, 64); err == nil {
				reg.Enums[e.Text] = v
			}
		}
	}
	if len(rr.Bits.BitField) > 0 {
		reg.Bitfields = map[string]register.Bitfield{}
		for _, b := range rr.Bits.BitField {
			start, errS := strconv.Atoi(b.Start)
			end, errE := strconv.Atoi(b.End)
			if errS != nil || errE != nil {
				continue
			}
			reg.Bitfields[b.Name] = register.Bitfield{Name: b.Name, StartBit: start, EndBit: end}
		}
	}
	if rr.Storage != "" {
		if v, err := register.ParseValue(dtype, rr.Storage); err == nil {
			reg.Storage = v
		} else {
			log.WithError(err).Warn("dictionary: unparseable storage attribute, ignoring")
		}
	}
	if rr.Default != "" {
		if v, err := register.ParseValue(dtype, rr.Default); err == nil {
			reg.Default = v
		} else {
			log.WithError(err).Warn("dictionary: unparseable default attribute, ignoring")
		}
	}

	if d.Registers[subnode] == nil {
		d.Registers[subnode] = map[string]*register.Register{}
		if _, ok := d.Subnodes[subnode]; !ok {
			d.Subnodes[subnode] = Motion
		}
	}
	d.Registers[subnode][rr.ID] = reg

	// V3 structured objects: nested Register children become ordinary
	// catalog entries, linked back to their parent for ChildRegisters.
	for _, child := range rr.Children {
		addRegister(d, child, majorVersion, iface, subnode)
		if _, ok := d.Registers[subnode][child.ID]; !ok {
			continue
		}
		if d.children == nil {
			d.children = map[uint8]map[string][]string{}
		}
		if d.children[subnode] == nil {
			d.children[subnode] = map[string][]string{}
		}
		d.children[subnode][rr.ID] = append(d.children[subnode][rr.ID], child.ID)
	}
}

// parseRange converts the Range element's min/max text into typed bounds
// matching the register's dtype.
func parseRange(dtype register.DType, r *rawRange) (*register.Range, error) {
	min, err := register.ParseValue(dtype, r.Min)
	if err != nil {
		return nil, err
	}
	max, err := register.ParseValue(dtype, r.Max)
	if err != nil {
		return nil, err
	}
	return &register.Range{Min: min, Max: max}, nil
}

func parseAccess(s string) (register.Access, bool) {
	switch strings.ToLower(s) {
	case "r", "ro":
		return register.RO, true
	case "w", "wo":
		return register.WO, true
	case "rw":
		return register.RW, true
	default:
		return 0, false
	}
}

func parseCyclic(s string) register.Cyclic {
	switch strings.ToUpper(s) {
	case "CYCLIC_RX":
		return register.CyclicRX
	case "CYCLIC_TX":
		return register.CyclicTX
	case "CYCLIC_RXTX":
		return register.CyclicRXTX
	case "CYCLIC_SI":
		return register.CyclicSI
	case "CYCLIC_SO":
		return register.CyclicSO
	case "CYCLIC_SISO":
		return register.CyclicSISO
	default:
		return register.Config
	}
}

// parseAddress resolves a register's wire address from the raw XML
// attributes, branching on dictionary version and declared interface:
// V3 dictionaries carry explicit index/subindex attributes; V2
// dictionaries carry a single "address" attribute whose interpretation
// depends on the transport (flat 12-bit for IP, 24-bit packed CoE index/
// sub-index for CAN, and for EtherCAT the low 12 bits relocated by the
// CiA subnode offset into an index with sub-index 0).
func parseAddress(rr rawRegister, majorVersion string, iface Interface, subnode uint8) (register.Address, error) {
	rawIndex, rawSubIndex := rr.Index, rr.SubIndex
	if rr.Object != nil {
		rawIndex, rawSubIndex = rr.Object.Index, rr.Object.SubIndex
	}
	if majorVersion == "3" && rawIndex != "" {
		index, err := parseHex(rawIndex)
		if err != nil {
			return nil, err
		}
		subIndex := uint8(0)
		if rawSubIndex != "" {
			si, err := parseHex(rawSubIndex)
			if err != nil {
				return nil, err
			}
			subIndex = uint8(si)
		}
		if iface == InterfaceECAT {
			return register.ECATAddress{Index: uint16(index), SubIndex: subIndex}, nil
		}
		return register.CoEAddress{Index: uint16(index), SubIndex: subIndex}, nil
	}

	raw, err := parseHex(rr.Address)
	if err != nil {
		return nil, err
	}

	switch iface {
	case InterfaceCAN:
		return register.CoEAddress{Index: uint16(raw >> 8), SubIndex: uint8(raw & 0xFF)}, nil
	case InterfaceECAT:
		// V2 EtherCAT addresses are the flat 12-bit register address,
		// relocated into CoE space by the per-subnode CiA offset.
		offset := register.ECATSubnodeOffset(subnode)
		return register.ECATAddress{Index: offset + uint16(raw&0xFFF), SubIndex: 0}, nil
	default: // EoE, ETH, VIRTUAL: flat 12-bit IP address
		return register.IPAddress{Addr: uint16(raw) & 0xFFF}, nil
	}
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}
