package filter

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"

	"pendingScope/internal/model"
)

// CalldataMatch requires Expected to appear at Offset of the call input.
type CalldataMatch struct {
	Offset   uint32
	Expected []byte
}

// Rule selects calls by destination, selector and calldata. Unset fields
// match anything. MinGas is the smallest transaction gas limit for which the
// rule is considered at all.
type Rule struct {
	Contract *common.Address
	Selector *Selector
	Calldata []CalldataMatch
	MinGas   uint64
}

// IsSentinel reports whether the rule carries no criteria. Registering such a
// rule sets the blanket gas threshold instead of adding a rule.
func (r Rule) IsSentinel() bool {
	return r.Contract == nil && r.Selector == nil && len(r.Calldata) == 0
}

// Match tests the rule against a call whose selector was already extracted.
func (r Rule) Match(call model.CallEvent, sel Selector, hasSel bool) bool {
	if r.Contract != nil {
		if call.To == nil || *call.To != *r.Contract {
			return false
		}
	}
	if r.Selector != nil {
		if !hasSel || sel != *r.Selector {
			return false
		}
	}
	for _, m := range r.Calldata {
		if !calldataAt(call.Input, m) {
			return false
		}
	}
	return true
}

// Matches tests the rule against a call.
func (r Rule) Matches(call model.CallEvent) bool {
	sel, ok := ExtractSelector(call.Input)
	return r.Match(call, sel, ok)
}

func calldataAt(input []byte, m CalldataMatch) bool {
	start := uint64(m.Offset)
	end := start + uint64(len(m.Expected))
	if end > uint64(len(input)) {
		return false
	}
	return bytes.Equal(input[start:end], m.Expected)
}

// MatchAny reports whether any rule matches the call.
func MatchAny(rules []Rule, call model.CallEvent) bool {
	if len(rules) == 0 {
		return false
	}
	sel, ok := ExtractSelector(call.Input)
	for _, rule := range rules {
		if rule.Match(call, sel, ok) {
			return true
		}
	}
	return false
}
