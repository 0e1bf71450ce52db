// Package mcb implements the Motion Control Bus frame codec: a 14-byte
// header/CRC region with an optional variable-length extended payload.
// Every multi-byte field is little-endian.
package mcb

import (
	"encoding/binary"
	"fmt"

	"github.com/ingenialink/gomcb"
	"github.com/ingenialink/gomcb/internal/crc"
)

// Command identifies the operation a frame carries. Only Read and Write
// are issued by the client; Ack, Nack, and the *Error variants are only
// ever received.
type Command uint8

const (
	Read       Command = 1
	Write      Command = 2
	Ack        Command = 3
	Nack       Command = 5
	ReadError  Command = 6
	WriteError Command = 7
)

const (
	headerSize   = 4
	dataSize     = 8
	crcSize      = 2
	headerRegion = headerSize + dataSize // the 12 bytes the CRC covers
	frameSize    = headerRegion + crcSize
)

// DefaultNode is the MCB client node identifier, per §6.1.
const DefaultNode uint8 = 0x0A

// BuildFrame encodes cmd/subnode/address/data into a wire frame. A nil
// data encodes as 8 zero bytes. Payloads of 8 bytes or fewer are inlined
// into config_data with zero padding; longer payloads set the extended
// flag, encode their length as config_data, and are appended verbatim
// after the CRC.
func BuildFrame(cmd Command, subnode uint8, address uint16, data []byte) []byte {
	return buildFrameWithNode(DefaultNode, cmd, subnode, address, data)
}

func buildFrameWithNode(node uint8, cmd Command, subnode uint8, address uint16, data []byte) []byte {
	extended := len(data) > dataSize

	nodeHeader := uint16(node)<<4 | uint16(subnode&0xF)
	extBit := uint16(0)
	if extended {
		extBit = 1
	}
	cmdHeader := address<<4 | uint16(cmd)<<1 | extBit

	frame := make([]byte, frameSize, frameSize+len(data))
	binary.LittleEndian.PutUint16(frame[0:2], nodeHeader)
	binary.LittleEndian.PutUint16(frame[2:4], cmdHeader)

	if extended {
		binary.LittleEndian.PutUint64(frame[4:12], uint64(len(data)))
	} else {
		copy(frame[4:12], data)
	}

	binary.LittleEndian.PutUint16(frame[12:14], crc.Compute(frame[:headerRegion]))

	if extended {
		frame = append(frame, data...)
	}
	return frame
}

// Parsed is the decoded form of a received MCB frame.
type Parsed struct {
	Address uint16
	Subnode uint8
	Cmd     Command
	Payload []byte
}

// ParseFrame validates the CRC and decodes the header fields and payload
// of a received frame.
func ParseFrame(frame []byte) (Parsed, error) {
	if len(frame) < frameSize {
		return Parsed{}, fmt.Errorf("mcb: frame too short (%d bytes, need at least %d)", len(frame), frameSize)
	}

	recvCRC := binary.LittleEndian.Uint16(frame[headerRegion:frameSize])
	calcCRC := crc.Compute(frame[:headerRegion])
	if recvCRC != calcCRC {
		return Parsed{}, gomcb.ErrWrongCRC
	}

	cmdHeader := binary.LittleEndian.Uint16(frame[2:4])
	extended := cmdHeader&1 != 0
	cmd := Command((cmdHeader >> 1) & 0x7)
	address := cmdHeader >> 4

	nodeHeader := binary.LittleEndian.Uint16(frame[0:2])
	subnode := uint8(nodeHeader & 0xF)

	var payload []byte
	if extended {
		length := binary.LittleEndian.Uint64(frame[4:12])
		if uint64(len(frame)) < uint64(frameSize)+length {
			return Parsed{}, fmt.Errorf("mcb: extended frame truncated: declared %d bytes, have %d", length, len(frame)-frameSize)
		}
		payload = frame[frameSize : uint64(frameSize)+length]
	} else {
		payload = frame[headerSize:headerRegion]
	}

	return Parsed{Address: address, Subnode: subnode, Cmd: cmd, Payload: payload}, nil
}

// ReadData parses frame and returns its payload, enforcing the ACK/address
// contract: a non-Ack command surfaces as a NACKError carrying the 32-bit
// error code from the first 4 payload bytes; an address mismatch surfaces
// as ErrWrongRegister.
func ReadData(expectedAddress uint16, frame []byte) ([]byte, error) {
	parsed, err := ParseFrame(frame)
	if err != nil {
		return nil, err
	}
	if parsed.Cmd != Ack {
		var code uint32
		if len(parsed.Payload) >= 4 {
			code = binary.LittleEndian.Uint32(parsed.Payload[0:4])
		}
		return nil, &gomcb.NACKError{Code: code}
	}
	if parsed.Address != expectedAddress {
		return nil, fmt.Errorf("%w: received 0x%03X, expected 0x%03X", gomcb.ErrWrongRegister, parsed.Address, expectedAddress)
	}
	return parsed.Payload, nil
}
