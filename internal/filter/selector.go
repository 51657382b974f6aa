package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Selector is the 4-byte function selector at the head of call input.
type Selector uint32

func (s Selector) String() string {
	return fmt.Sprintf("0x%08x", uint32(s))
}

// Bytes returns the selector in calldata byte order.
func (s Selector) Bytes() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(s))
	return out
}

// ExtractSelector reads the function selector from call input. Input shorter
// than four bytes has no selector.
func ExtractSelector(input []byte) (Selector, bool) {
	if len(input) < 4 {
		return 0, false
	}
	return Selector(binary.BigEndian.Uint32(input[:4])), true
}

// ParseSelector parses a selector written as "0x" followed by 8 hex digits.
func ParseSelector(s string) (Selector, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return 0, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("invalid selector %q: want 4 bytes, got %d", s, len(raw))
	}
	sel, _ := ExtractSelector(raw)
	return sel, nil
}
