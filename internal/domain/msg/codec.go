package msg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the message class carried in the header.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeCmd
	TypeTlm
)

func (t Type) String() string {
	switch t {
	case TypeCmd:
		return "cmd"
	case TypeTlm:
		return "tlm"
	default:
		return "invalid"
	}
}

var (
	ErrShortHeader = errors.New("buffer shorter than message header")
	ErrMsgIDRange  = errors.New("msg id not representable in header")
	ErrSizeRange   = errors.New("message size not representable in header")
)

// Codec reads and writes the header fields the bus needs. The byte layout is
// the codec's business; the bus only goes through these accessors.
type Codec interface {
	HeaderSize() int
	MsgID(b []byte) (MsgID, error)
	SetMsgID(b []byte, id MsgID) error
	Size(b []byte) (int, error)
	SetSize(b []byte, size int) error
	SequenceCount(b []byte) (uint16, error)
	SetSequenceCount(b []byte, seq uint16) error
	Type(b []byte) (Type, error)
}

// Primary is a 6-byte CCSDS-style primary header:
//
//	word 0: version(3) type(1) sec-hdr(1) apid(11)   -> MsgID is the low 13 bits
//	word 1: seq-flags(2) seq-count(14)
//	word 2: total length - 7
//
// All words are big-endian. Bit 0x1000 of word 0 marks a command.
type Primary struct{}

const (
	PrimaryHeaderSize = 6

	streamIDMask = 0x1FFF
	cmdTypeBit   = 0x1000
	seqCountMask = 0x3FFF
	seqFlagsAll  = 0xC000

	// MaxSequence is the largest sequence count the header holds.
	MaxSequence = seqCountMask

	lengthOffset = 7
	minSize      = PrimaryHeaderSize + 1
	maxSize      = 0xFFFF + lengthOffset
)

var _ Codec = Primary{}

func (Primary) HeaderSize() int { return PrimaryHeaderSize }

func (Primary) MsgID(b []byte) (MsgID, error) {
	if len(b) < PrimaryHeaderSize {
		return InvalidMsgID, ErrShortHeader
	}
	return MsgID(binary.BigEndian.Uint16(b[0:2]) & streamIDMask), nil
}

func (Primary) SetMsgID(b []byte, id MsgID) error {
	if len(b) < PrimaryHeaderSize {
		return ErrShortHeader
	}
	if id == InvalidMsgID || id > streamIDMask {
		return fmt.Errorf("%w: %s", ErrMsgIDRange, id)
	}
	w := binary.BigEndian.Uint16(b[0:2])
	w = w&^streamIDMask | uint16(id)
	binary.BigEndian.PutUint16(b[0:2], w)
	return nil
}

func (Primary) Size(b []byte) (int, error) {
	if len(b) < PrimaryHeaderSize {
		return 0, ErrShortHeader
	}
	return int(binary.BigEndian.Uint16(b[4:6])) + lengthOffset, nil
}

func (Primary) SetSize(b []byte, size int) error {
	if len(b) < PrimaryHeaderSize {
		return ErrShortHeader
	}
	if size < minSize || size > maxSize {
		return fmt.Errorf("%w: %d", ErrSizeRange, size)
	}
	binary.BigEndian.PutUint16(b[4:6], uint16(size-lengthOffset))
	return nil
}

func (Primary) SequenceCount(b []byte) (uint16, error) {
	if len(b) < PrimaryHeaderSize {
		return 0, ErrShortHeader
	}
	return binary.BigEndian.Uint16(b[2:4]) & seqCountMask, nil
}

func (Primary) SetSequenceCount(b []byte, seq uint16) error {
	if len(b) < PrimaryHeaderSize {
		return ErrShortHeader
	}
	w := binary.BigEndian.Uint16(b[2:4])
	w = w&^seqCountMask | seq&seqCountMask
	binary.BigEndian.PutUint16(b[2:4], w)
	return nil
}

func (Primary) Type(b []byte) (Type, error) {
	if len(b) < PrimaryHeaderSize {
		return TypeInvalid, ErrShortHeader
	}
	if binary.BigEndian.Uint16(b[0:2])&cmdTypeBit != 0 {
		return TypeCmd, nil
	}
	return TypeTlm, nil
}

// Build allocates a message with the given id and payload and fills in the
// header through c. The payload is copied.
func Build(c Codec, id MsgID, payload []byte) ([]byte, error) {
	hs := c.HeaderSize()
	size := hs + len(payload)
	if size < minSize {
		// A primary header cannot express a zero-length payload.
		size = minSize
	}
	b := make([]byte, size)
	if err := c.SetMsgID(b, id); err != nil {
		return nil, err
	}
	if err := c.SetSize(b, size); err != nil {
		return nil, err
	}
	if p, ok := c.(Primary); ok {
		p.initSeqFlags(b)
	}
	copy(b[hs:], payload)
	return b, nil
}

// Payload returns the bytes after the header, bounded by the header's size.
func Payload(c Codec, b []byte) ([]byte, error) {
	size, err := c.Size(b)
	if err != nil {
		return nil, err
	}
	if size > len(b) {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrSizeRange, size, len(b))
	}
	return b[c.HeaderSize():size], nil
}

func (Primary) initSeqFlags(b []byte) {
	w := binary.BigEndian.Uint16(b[2:4])
	binary.BigEndian.PutUint16(b[2:4], w|seqFlagsAll)
}
