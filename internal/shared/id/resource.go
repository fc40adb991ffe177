package id

import "fmt"

// ResourceID is an opaque handle to a slot in a fixed-capacity table.
//
// Layout (most significant first):
//
//	| kind (8) | generation (12) | slot (12) |
//
// Kind 0 is reserved so the zero value is never a valid handle.
type ResourceID uint32

// Kind tags which table a ResourceID belongs to.
type Kind uint8

const (
	KindPipe  Kind = 0x10
	KindRoute Kind = 0x11
	KindDest  Kind = 0x12
)

const (
	slotBits = 12
	genBits  = 12

	// MaxSlots is the largest table a ResourceID can address.
	MaxSlots = 1 << slotBits
	// MaxGeneration is the largest generation before wrapping back to 1.
	MaxGeneration = 1<<genBits - 1

	slotMask = MaxSlots - 1
	genMask  = MaxGeneration
)

// Undefined is the zero handle.
const Undefined ResourceID = 0

// Mint builds a ResourceID. Generation 0 is never minted: it marks a slot
// that has never been allocated.
func Mint(kind Kind, generation uint32, slot int) ResourceID {
	return ResourceID(uint32(kind)<<(slotBits+genBits) |
		(generation&genMask)<<slotBits |
		uint32(slot)&slotMask)
}

// Validate checks the kind tag and returns the slot index. It does not know
// about live generations; tables compare Generation against their slot.
func Validate(rid ResourceID, kind Kind) (int, bool) {
	if rid.Kind() != kind || rid.Generation() == 0 {
		return 0, false
	}
	return rid.Slot(), true
}

// NextGeneration returns the generation following g, skipping 0.
func NextGeneration(g uint32) uint32 {
	g = (g + 1) & genMask
	if g == 0 {
		g = 1
	}
	return g
}

func (r ResourceID) Kind() Kind         { return Kind(uint32(r) >> (slotBits + genBits)) }
func (r ResourceID) Generation() uint32 { return uint32(r) >> slotBits & genMask }
func (r ResourceID) Slot() int          { return int(uint32(r) & slotMask) }
func (r ResourceID) Value() uint32      { return uint32(r) }
func (r ResourceID) Defined() bool      { return r != Undefined }

func (r ResourceID) String() string {
	return fmt.Sprintf("0x%08x", uint32(r))
}
