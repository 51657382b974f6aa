package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// CallKind is the flavour of a message call observed during execution.
type CallKind uint8

const (
	KindCall CallKind = iota
	KindDelegateCall
	KindStaticCall
	KindCallCode
	KindCreate
	KindCreate2
	KindSelfDestruct
)

var callKindNames = map[CallKind]string{
	KindCall:         "call",
	KindDelegateCall: "delegatecall",
	KindStaticCall:   "staticcall",
	KindCallCode:     "callcode",
	KindCreate:       "create",
	KindCreate2:      "create2",
	KindSelfDestruct: "selfdestruct",
}

func (k CallKind) String() string {
	if name, ok := callKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// ParseCallKind maps a trace call type (CALL, delegatecall, ...) to a CallKind.
func ParseCallKind(value string) (CallKind, bool) {
	lower := strings.ToLower(value)
	for kind, name := range callKindNames {
		if name == lower {
			return kind, true
		}
	}
	return 0, false
}

// CallEvent is a single message call recorded while a transaction executes.
// To is nil for contract creation.
type CallEvent struct {
	Gas   uint64
	Value *uint256.Int
	From  common.Address
	To    *common.Address
	Input []byte
	Kind  CallKind
}

// Destination returns the call target, or the zero address for creations.
func (c CallEvent) Destination() common.Address {
	if c.To == nil {
		return common.Address{}
	}
	return *c.To
}

type callEventJSON struct {
	CallType string          `json:"callType"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Gas      hexutil.Uint64  `json:"gas"`
	Value    string          `json:"value"`
	Input    hexutil.Bytes   `json:"input"`
}

// MarshalJSON encodes the call with hex quantities.
func (c CallEvent) MarshalJSON() ([]byte, error) {
	value := "0x0"
	if c.Value != nil {
		value = c.Value.Hex()
	}
	input := c.Input
	if input == nil {
		input = []byte{}
	}
	return json.Marshal(callEventJSON{
		CallType: c.Kind.String(),
		From:     c.From,
		To:       c.To,
		Gas:      hexutil.Uint64(c.Gas),
		Value:    value,
		Input:    input,
	})
}

// UnmarshalJSON decodes a call produced by MarshalJSON.
func (c *CallEvent) UnmarshalJSON(data []byte) error {
	var raw callEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, ok := ParseCallKind(raw.CallType)
	if !ok {
		return fmt.Errorf("unknown call type %q", raw.CallType)
	}
	value, err := uint256.FromHex(raw.Value)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	*c = CallEvent{
		Gas:   uint64(raw.Gas),
		Value: value,
		From:  raw.From,
		To:    raw.To,
		Input: raw.Input,
		Kind:  kind,
	}
	return nil
}
