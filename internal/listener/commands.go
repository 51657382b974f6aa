package listener

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pendingScope/internal/filter"
	"pendingScope/internal/methods"
	"pendingScope/internal/model"
)

// Subscription describes what the listener asks the server for.
type Subscription struct {
	// Tier is sent first when set.
	Tier string
	// Filters are raw filter registrations sent as is.
	Filters []string
	// Methods are catalog names or 0x selectors; each becomes one rule,
	// restricted to Contract when set.
	Methods  []string
	Contract string
	// GasThreshold registers a blanket threshold when non-zero.
	GasThreshold uint64
}

type filterCommand struct {
	Contract  string  `json:"contract,omitempty"`
	Signature *uint32 `json:"signature,omitempty"`
	GasLimit  uint64  `json:"gasLimit,omitempty"`
}

// Commands renders the subscription as the messages sent after connecting.
func (s Subscription) Commands() ([]string, error) {
	var out []string
	if s.Tier != "" {
		if _, ok := model.ParseTier(s.Tier); !ok {
			return nil, fmt.Errorf("invalid tier %q", s.Tier)
		}
		out = append(out, strings.ToLower(strings.TrimSpace(s.Tier)))
	}

	contract := strings.TrimSpace(s.Contract)
	if contract != "" && !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}

	for _, raw := range s.Filters {
		if _, err := filter.ParseRule([]byte(raw)); err != nil {
			return nil, fmt.Errorf("filter %s: %w", raw, err)
		}
		out = append(out, raw)
	}

	for _, name := range s.Methods {
		sel, err := methods.Selector(name)
		if err != nil {
			return nil, err
		}
		sig := uint32(sel)
		cmd, err := json.Marshal(filterCommand{Contract: contract, Signature: &sig})
		if err != nil {
			return nil, err
		}
		out = append(out, string(cmd))
	}
	if len(s.Methods) == 0 && contract != "" {
		cmd, err := json.Marshal(filterCommand{Contract: contract})
		if err != nil {
			return nil, err
		}
		out = append(out, string(cmd))
	}

	if s.GasThreshold > 0 {
		cmd, err := json.Marshal(filterCommand{GasLimit: s.GasThreshold})
		if err != nil {
			return nil, err
		}
		out = append(out, string(cmd))
	}
	return out, nil
}
