// Package frame implements the wire header and frame check sequence shared
// by PD and MD frames (spec §6.2): a fixed, big-endian header, followed by
// the marshalled payload, followed by two trailing 32-bit checksums.
package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// MsgType is the wire-level message type tag (spec §4.5, §6.2). The
// acronyms are wire-level and must appear verbatim in logs/debugging.
type MsgType uint16

const (
	MsgPd MsgType = iota + 1 // Process Data
	MsgPp                    // PD Pull reply ("Pp" pull response)
	MsgPr                    // PD Pull request
	MsgMn                    // MD Notify
	MsgMr                    // MD Request
	MsgMp                    // MD Reply
	MsgMq                    // MD ReplyQuery
	MsgMc                    // MD Confirm
	MsgMe                    // MD Error
)

func (t MsgType) String() string {
	switch t {
	case MsgPd:
		return "Pd"
	case MsgPp:
		return "Pp"
	case MsgPr:
		return "Pr"
	case MsgMn:
		return "Mn"
	case MsgMr:
		return "Mr"
	case MsgMp:
		return "Mp"
	case MsgMq:
		return "Mq"
	case MsgMc:
		return "Mc"
	case MsgMe:
		return "Me"
	default:
		return "?"
	}
}

// ProtocolVersion is the wire protocol version this runtime speaks.
const ProtocolVersion uint16 = 1

// HeaderSize is the fixed header length in bytes.
const HeaderSize = 4 + 2 + 2 + 4 + 4 + 4 + 4 + 4 + 16

// Header is the fixed frame header (spec §6.2). SessionID is all-zero for PD.
type Header struct {
	SequenceNumber  uint32
	ProtocolVersion uint16
	MsgType         MsgType
	ComID           uint32
	TopoCount       uint32
	DatasetLength   uint32
	ReplyComID      uint32
	ReplyIPAddress  uint32
	SessionID       [16]byte
}

// Encode writes the header into buf[0:HeaderSize]. It returns an error if buf
// is shorter than HeaderSize; the header FCS is computed by Build.
func (h Header) Encode(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("frame: header buffer too small (%d < %d)", len(buf), HeaderSize)
	}
	binary.BigEndian.PutUint32(buf[0:], h.SequenceNumber)
	binary.BigEndian.PutUint16(buf[4:], h.ProtocolVersion)
	binary.BigEndian.PutUint16(buf[6:], uint16(h.MsgType))
	binary.BigEndian.PutUint32(buf[8:], h.ComID)
	binary.BigEndian.PutUint32(buf[12:], h.TopoCount)
	binary.BigEndian.PutUint32(buf[16:], h.DatasetLength)
	binary.BigEndian.PutUint32(buf[20:], h.ReplyComID)
	binary.BigEndian.PutUint32(buf[24:], h.ReplyIPAddress)
	copy(buf[28:44], h.SessionID[:])
	return nil
}

// DecodeHeader parses a Header from buf[0:HeaderSize].
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("%w: frame shorter than header", ErrMalformed)
	}
	h.SequenceNumber = binary.BigEndian.Uint32(buf[0:])
	h.ProtocolVersion = binary.BigEndian.Uint16(buf[4:])
	h.MsgType = MsgType(binary.BigEndian.Uint16(buf[6:]))
	h.ComID = binary.BigEndian.Uint32(buf[8:])
	h.TopoCount = binary.BigEndian.Uint32(buf[12:])
	h.DatasetLength = binary.BigEndian.Uint32(buf[16:])
	h.ReplyComID = binary.BigEndian.Uint32(buf[20:])
	h.ReplyIPAddress = binary.BigEndian.Uint32(buf[24:])
	copy(h.SessionID[:], buf[28:44])
	return h, nil
}

// ErrMalformed is returned when an inbound byte count is inconsistent with
// what the header or schema demands (spec §4.2 MalformedFrame).
var ErrMalformed = fmt.Errorf("frame: malformed")

// Build assembles a complete frame: header + payload + header FCS + payload
// FCS (spec §6.2: "a trailing frame check sequence is appended: a 32-bit
// checksum of the header (alone) and a separate 32-bit checksum of the
// payload").
//
// CRC-32/IEEE is used for both checksums: it is the checksum TRDP's own wire
// format specifies, and no library in the retrieval pack offers a
// wire-compatible alternative, so the standard library's hash/crc32 is used
// directly rather than introducing an unrelated hash function.
func Build(h Header, payload []byte) []byte {
	h.DatasetLength = uint32(len(payload))
	out := make([]byte, HeaderSize+len(payload)+8)
	_ = h.Encode(out[:HeaderSize])
	headerFCS := crc32.ChecksumIEEE(out[:HeaderSize])
	copy(out[HeaderSize:], payload)
	payloadFCS := crc32.ChecksumIEEE(payload)
	binary.BigEndian.PutUint32(out[HeaderSize+len(payload):], headerFCS)
	binary.BigEndian.PutUint32(out[HeaderSize+len(payload)+4:], payloadFCS)
	return out
}

// Parse splits a received frame into its header and payload, validating
// both checksums (spec §4.2 MalformedFrame).
func Parse(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderSize+8 {
		return Header{}, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrMalformed, len(raw))
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}
	payloadEnd := len(raw) - 8
	payload := raw[HeaderSize:payloadEnd]
	if uint32(len(payload)) != h.DatasetLength {
		return Header{}, nil, fmt.Errorf("%w: datasetLength %d != actual payload %d", ErrMalformed, h.DatasetLength, len(payload))
	}
	wantHeaderFCS := binary.BigEndian.Uint32(raw[payloadEnd:])
	wantPayloadFCS := binary.BigEndian.Uint32(raw[payloadEnd+4:])
	if crc32.ChecksumIEEE(raw[:HeaderSize]) != wantHeaderFCS {
		return Header{}, nil, fmt.Errorf("%w: header checksum mismatch", ErrMalformed)
	}
	if crc32.ChecksumIEEE(payload) != wantPayloadFCS {
		return Header{}, nil, fmt.Errorf("%w: payload checksum mismatch", ErrMalformed)
	}
	return h, payload, nil
}

// Ports are the default UDP/TCP ports (spec §6.2).
const (
	PDPort = 20548
	MDPort = 20550
)
