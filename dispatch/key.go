package dispatch

import (
	"fmt"
	"math/bits"
	"strings"
)

// Key identifies one handling layer a call can be routed to: the base dense
// kernels or one of the interception layers stacked on top of them.
//
// Keys are ordered by priority: a numerically larger Key is more specific and
// is consulted before smaller ones. Interception layers therefore run before
// the dense kernels that ultimately compute values.
type Key int

const (
	KeyInvalid Key = iota

	// KeyDense selects the default kernels operating on plain dense storage.
	// Every tensor carries it from construction.
	KeyDense

	// KeyNegView selects the pending-negation layer: tensors marked with it
	// store the negation of their logical values.
	KeyNegView

	// KeyFlatView selects the flattened-view layer: tensors marked with it
	// must be presented to dense kernels in rank-1 form.
	KeyFlatView

	// KeyLast is one past the highest valid Key. Used to size per-key tables.
	KeyLast
)

var keyNames = [KeyLast]string{
	KeyInvalid:  "Invalid",
	KeyDense:    "Dense",
	KeyNegView:  "NegView",
	KeyFlatView: "FlatView",
}

// String implements fmt.Stringer.
func (k Key) String() string {
	if k < 0 || k >= KeyLast {
		return fmt.Sprintf("Key(%d)", int(k))
	}
	return keyNames[k]
}

// IsValid reports whether k is one of the defined dispatch keys.
func (k Key) IsValid() bool { return k > KeyInvalid && k < KeyLast }

// KeySet is a set of Keys packed as a bitmask. The zero value is the empty
// set. KeySet values are immutable; Add and Remove return new sets.
type KeySet uint64

func (k Key) bit() KeySet {
	if !k.IsValid() {
		return 0
	}
	return 1 << uint(k-1)
}

// KeySetWith returns a KeySet holding the given keys. Invalid keys are ignored.
func KeySetWith(keys ...Key) KeySet {
	var ks KeySet
	for _, k := range keys {
		ks |= k.bit()
	}
	return ks
}

// Has reports whether k is in the set.
func (ks KeySet) Has(k Key) bool { return ks&k.bit() != 0 }

// Add returns a new set with k included.
func (ks KeySet) Add(k Key) KeySet { return ks | k.bit() }

// Remove returns a new set with k excluded. Removing a key not in the set is
// a no-op.
func (ks KeySet) Remove(k Key) KeySet { return ks &^ k.bit() }

// IsEmpty reports whether the set holds no keys.
func (ks KeySet) IsEmpty() bool { return ks == 0 }

// Highest returns the highest-priority key in the set, or KeyInvalid if the
// set is empty.
func (ks KeySet) Highest() Key {
	if ks == 0 {
		return KeyInvalid
	}
	return Key(bits.Len64(uint64(ks)))
}

// Keys returns the keys in the set, from the highest priority to the lowest.
func (ks KeySet) Keys() []Key {
	keys := make([]Key, 0, bits.OnesCount64(uint64(ks)))
	for !ks.IsEmpty() {
		k := ks.Highest()
		keys = append(keys, k)
		ks = ks.Remove(k)
	}
	return keys
}

// String implements fmt.Stringer, listing keys from the highest priority to
// the lowest.
func (ks KeySet) String() string {
	parts := make([]string, 0, 4)
	for _, k := range ks.Keys() {
		parts = append(parts, k.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
