// Defines Symbol, the fixed-width identifier for a traded instrument.

package sim

import (
	"bytes"
	"encoding/binary"
)

// SymbolLength is the number of bytes in a Symbol.
const SymbolLength = 4

// Symbol is a fixed-width, zero-padded ticker name such as "BTC" or "ETH".
// It doubles as a uint32 (see ID) so equality and ordering are single
// integer comparisons.
type Symbol [SymbolLength]byte

// NewSymbol builds a Symbol from a ticker name. Names longer than
// SymbolLength are truncated; shorter names are zero-padded.
func NewSymbol(name string) Symbol {
	var s Symbol
	copy(s[:], name)
	return s
}

// SymbolFromID is the inverse of Symbol.ID.
func SymbolFromID(id uint32) Symbol {
	var s Symbol
	binary.LittleEndian.PutUint32(s[:], id)
	return s
}

// ID returns the integer view of the symbol. The zero Symbol has ID 0,
// which marks an empty cache entry or position slot.
func (s Symbol) ID() uint32 {
	return binary.LittleEndian.Uint32(s[:])
}

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool {
	return s.ID() == 0
}

func (s Symbol) String() string {
	return string(bytes.TrimRight(s[:], "\x00"))
}
