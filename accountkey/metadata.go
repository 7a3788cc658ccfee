package accountkey

import "fmt"

// MinID is the smallest valid Account Key id. Id 0 marks an empty slot.
const MinID uint8 = 1

// MaxCapacity is the largest Account Key capacity the id field can address.
const MaxCapacity = 31

const (
	metadataIDMask       Metadata = 0x3f
	metadataReservedMask Metadata = ^metadataIDMask
)

// Metadata is the per-slot byte persisted next to an Account Key.
// Bits 0..5 carry the id, bits 6..7 are reserved and must be zero.
type Metadata uint8

func (m Metadata) ID() uint8 {
	return uint8(m & metadataIDMask)
}

// WithID returns m with its id field replaced.
func (m Metadata) WithID(id uint8) Metadata {
	return (m &^ metadataIDMask) | (Metadata(id) & metadataIDMask)
}

func (m Metadata) reservedBits() uint8 {
	return uint8(m & metadataReservedMask)
}

// idSpace derives ids and slot indices for a given capacity. Each slot owns
// two ids, MinID+index and MinID+index+capacity, and a slot alternates
// between them every time its key is evicted.
type idSpace struct {
	capacity uint8
}

func (s idSpace) max() uint8 {
	return MinID + 2*s.capacity - 1
}

func (s idSpace) valid(id uint8) bool {
	return id >= MinID && id <= s.max()
}

func (s idSpace) index(id uint8) int {
	return int((id - MinID) % s.capacity)
}

func (s idSpace) bump(id uint8) uint8 {
	if !s.valid(id) {
		panic(fmt.Sprintf("account key id %d out of range", id))
	}
	if id < MinID+s.capacity {
		return id + s.capacity
	}
	return id - s.capacity
}
