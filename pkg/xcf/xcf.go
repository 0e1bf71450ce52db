// Package xcf implements L6 configuration-file I/O: saving the drive's
// current RW register values to a pretty-printed .xcf XML file and
// loading them back, plus a scoped snapshot/restore helper for tests and
// tooling.
package xcf

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"

	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/pkg/dictionary"
	"github.com/ingenialink/gomcb/pkg/register"
	"github.com/ingenialink/gomcb/pkg/servo"
	"github.com/sirupsen/logrus"
)

// Identification register UIDs read to stamp the saved file's device
// attributes; COCO names are tried first, falling back to
// the plain names some dictionaries use instead.
const (
	UIDProductCodeCOCO    = "DRV_ID_PRODUCT_CODE_COCO"
	UIDProductCode        = "DRV_ID_PRODUCT_CODE"
	UIDRevisionNumberCOCO = "DRV_ID_REVISION_NUMBER_COCO"
	UIDRevisionNumber     = "DRV_ID_REVISION_NUMBER"
)

type document struct {
	XMLName xml.Name `xml:"IngeniaDictionary"`
	Header  header   `xml:"Header"`
	Body    body     `xml:"Body"`
}

type header struct {
	Version string `xml:"Version"`
}

type body struct {
	Device device `xml:"Device"`
}

type device struct {
	Interface       string    `xml:"Interface,attr"`
	FirmwareVersion string    `xml:"firmwareVersion,attr,omitempty"`
	ProductCode     string    `xml:"ProductCode,attr,omitempty"`
	PartNumber      string    `xml:"PartNumber,attr,omitempty"`
	RevisionNumber  string    `xml:"RevisionNumber,attr,omitempty"`
	NodeID          string    `xml:"NodeID,attr,omitempty"`
	Registers       registers `xml:"Registers"`
}

type registers struct {
	Register []xmlRegister `xml:"Register"`
}

type xmlRegister struct {
	Access  string `xml:"access,attr"`
	DType   string `xml:"dtype,attr"`
	ID      string `xml:"id,attr"`
	Subnode uint8  `xml:"subnode,attr"`
	Storage string `xml:"storage,attr,omitempty"`
}

// Option configures Save/Load.
type Option struct {
	// Subnode restricts the operation to one axis; nil means every axis.
	Subnode *uint8
	Log     *logrus.Entry
}

func (o Option) logger() *logrus.Entry {
	if o.Log != nil {
		return o.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (o Option) matches(subnode uint8) bool {
	return o.Subnode == nil || *o.Subnode == subnode
}

// Save reads the drive's current identification and every RW register
// matching opt's subnode filter, and writes a pretty-printed UTF-8 .xcf
// file to path. RO/WO registers are skipped; a register whose read
// fails is logged and omitted from the file rather than aborting the
// save.
func Save(ctx context.Context, path string, s *servo.Servo, dict *dictionary.Dictionary, opt Option) error {
	log := opt.logger()

	doc := document{
		Header: header{Version: dict.Version},
		Body: body{Device: device{
			Interface:       string(dict.Interface),
			FirmwareVersion: dict.FirmwareVersion,
			PartNumber:      dict.PartNumber,
		}},
	}
	doc.Body.Device.ProductCode = readIdentification(ctx, s, log, UIDProductCodeCOCO, UIDProductCode)
	doc.Body.Device.RevisionNumber = readIdentification(ctx, s, log, UIDRevisionNumberCOCO, UIDRevisionNumber)

	for subnode, regs := range dict.Registers {
		if !opt.matches(subnode) {
			continue
		}
		for uid, reg := range regs {
			if reg.Access != register.RW {
				continue
			}
			value, err := s.Read(ctx, uid, subnode)
			if err != nil {
				log.WithError(err).WithField("register", uid).Warn("xcf: save: failed to read register, omitting")
				continue
			}
			storage, err := valueToString(reg.DType, value)
			if err != nil {
				log.WithError(err).WithField("register", uid).Warn("xcf: save: failed to stringify value, omitting")
				continue
			}
			doc.Body.Device.Registers.Register = append(doc.Body.Device.Registers.Register, xmlRegister{
				Access:  accessString(reg.Access),
				DType:   dtypeLexicon(reg.DType),
				ID:      uid,
				Subnode: subnode,
				Storage: storage,
			})
		}
	}

	out, err := xml.MarshalIndent(doc, "", "\t")
	if err != nil {
		return &gomcb.ConfigurationFileParseError{Path: path, Err: err}
	}
	content := append([]byte(xml.Header), out...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("xcf: save %q: %w", path, err)
	}
	return nil
}

// Load parses path and writes every register carrying a storage
// attribute and access="rw" to the drive, via the live dictionary dict.
// A register that fails to parse, isn't found in dict, or fails to
// write is logged and skipped; Load does not abort.
func Load(ctx context.Context, path string, s *servo.Servo, dict *dictionary.Dictionary, opt Option) error {
	log := opt.logger()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("xcf: load %q: %w", path, err)
	}
	var doc document
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return &gomcb.ConfigurationFileParseError{Path: path, Err: err}
	}

	for _, xr := range doc.Body.Device.Registers.Register {
		if xr.Storage == "" || xr.Access != "rw" {
			continue
		}
		if !opt.matches(xr.Subnode) {
			continue
		}
		reg, ok := dict.Register(xr.Subnode, xr.ID)
		if !ok {
			log.WithField("register", xr.ID).Warn("xcf: load: register not found in live dictionary, skipping")
			continue
		}
		value, err := stringToValue(reg.DType, xr.Storage)
		if err != nil {
			log.WithError(err).WithField("register", xr.ID).Warn("xcf: load: failed to parse stored value, skipping")
			continue
		}
		if err := s.Write(ctx, xr.ID, value, xr.Subnode, false); err != nil {
			log.WithError(err).WithField("register", xr.ID).Warn("xcf: load: failed to write register, skipping")
		}
	}
	return nil
}

func readIdentification(ctx context.Context, s *servo.Servo, log *logrus.Entry, primary, fallback string) string {
	if v, err := s.Read(ctx, primary, 0); err == nil {
		return fmt.Sprint(v)
	}
	if v, err := s.Read(ctx, fallback, 0); err == nil {
		return fmt.Sprint(v)
	}
	log.WithField("registers", []string{primary, fallback}).Debug("xcf: identification registers unavailable")
	return ""
}

func accessString(a register.Access) string {
	switch a {
	case register.RO:
		return "r"
	case register.WO:
		return "w"
	default:
		return "rw"
	}
}

var dtypeLexiconNames = map[register.DType]string{
	register.U8: "u8", register.S8: "s8", register.U16: "u16", register.S16: "s16",
	register.U32: "u32", register.S32: "s32", register.U64: "u64", register.S64: "s64",
	register.Float: "float", register.Str: "str", register.ByteArray512: "byte_array_512", register.Bool: "bool",
}

func dtypeLexicon(d register.DType) string {
	if s, ok := dtypeLexiconNames[d]; ok {
		return s
	}
	return d.String()
}

// valueToString renders a decoded register value as its .xcf storage
// text form: decimal for integers/floats, the literal string for Str,
// and hex for ByteArray512.
func valueToString(dtype register.DType, value any) (string, error) {
	switch dtype {
	case register.Str:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("xcf: expected string, got %T", value)
		}
		return s, nil
	case register.ByteArray512:
		b, ok := value.([]byte)
		if !ok {
			return "", fmt.Errorf("xcf: expected []byte, got %T", value)
		}
		return fmt.Sprintf("%x", b), nil
	case register.Float:
		f, ok := value.(float32)
		if !ok {
			return "", fmt.Errorf("xcf: expected float32, got %T", value)
		}
		return strconv.FormatFloat(float64(f), 'g', -1, 32), nil
	case register.Bool:
		b, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("xcf: expected bool, got %T", value)
		}
		return strconv.FormatBool(b), nil
	default:
		return fmt.Sprint(value), nil
	}
}

// stringToValue is the inverse of valueToString; the storage-text lexicon
// is shared with the dictionary loader.
func stringToValue(dtype register.DType, s string) (any, error) {
	return register.ParseValue(dtype, s)
}
