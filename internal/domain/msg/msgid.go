// Package msg defines message identifiers and the header codec used by the bus.
package msg

import "fmt"

// MsgID identifies a message topic. Compare with Equal and check ranges with
// Range.Contains rather than raw integer operators, so the underlying width
// can change without touching callers.
type MsgID uint32

// InvalidMsgID is the reserved sentinel. It is outside every valid range.
const InvalidMsgID MsgID = 0xFFFFFFFF

// DefaultHighestValid is the highest MsgID a 13-bit stream id can carry.
const DefaultHighestValid MsgID = 0x1FFF

// FromValue converts a raw integer to a MsgID.
func FromValue(v uint32) MsgID { return MsgID(v) }

// Value returns the raw integer form, for encoding and display.
func (m MsgID) Value() uint32 { return uint32(m) }

// Equal reports whether two MsgIDs name the same topic.
func (m MsgID) Equal(o MsgID) bool { return m == o }

func (m MsgID) String() string {
	if m == InvalidMsgID {
		return "invalid"
	}
	return fmt.Sprintf("0x%04X", uint32(m))
}

// Range bounds the valid MsgIDs: [0, Highest].
type Range struct {
	Highest MsgID
}

// DefaultRange is [0, 0x1FFF].
func DefaultRange() Range { return Range{Highest: DefaultHighestValid} }

// Contains reports whether m is a usable MsgID. The sentinel never is.
func (r Range) Contains(m MsgID) bool {
	return m != InvalidMsgID && m <= r.Highest
}
