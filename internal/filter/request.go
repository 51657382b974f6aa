package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// request is the wire form of a filter registration:
//
//	{"contract": "0x..", "signature": 2835717307, "gasLimit": 100000,
//	 "calldataFilters": [{"offset": 4, "searchBytes": "0x.."}]}
type request struct {
	Contract        *string          `json:"contract"`
	Signature       *quantity        `json:"signature"`
	GasLimit        *quantity        `json:"gasLimit"`
	CalldataFilters []calldataFilter `json:"calldataFilters"`
}

type calldataFilter struct {
	Offset      *quantity `json:"offset"`
	SearchBytes string    `json:"searchBytes"`
}

// quantity accepts a JSON number, a decimal string or a 0x-prefixed hex string.
type quantity uint64

func (q *quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := parseUint(s)
		if err != nil {
			return err
		}
		*q = quantity(v)
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %s", data)
	}
	*q = quantity(v)
	return nil
}

func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseRule decodes a filter registration. A zero contract address and a zero
// signature are treated as unset, a missing gasLimit as zero. Registrations
// with neither contract, signature nor calldata filters are sentinels for the
// blanket gas threshold.
func ParseRule(data []byte) (Rule, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Rule{}, errors.New("empty filter")
	}

	var req request
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&req); err != nil {
		return Rule{}, fmt.Errorf("decode filter: %w", err)
	}
	if dec.More() {
		return Rule{}, errors.New("decode filter: trailing data")
	}
	var rule Rule
	if req.GasLimit != nil {
		rule.MinGas = uint64(*req.GasLimit)
	}

	if req.Contract != nil {
		raw := strings.TrimSpace(*req.Contract)
		if !common.IsHexAddress(raw) {
			return Rule{}, fmt.Errorf("invalid contract address: %s", raw)
		}
		addr := common.HexToAddress(raw)
		if addr != (common.Address{}) {
			rule.Contract = &addr
		}
	}

	if req.Signature != nil {
		if uint64(*req.Signature) > 0xffffffff {
			return Rule{}, fmt.Errorf("signature out of range: %d", uint64(*req.Signature))
		}
		if *req.Signature != 0 {
			sel := Selector(*req.Signature)
			rule.Selector = &sel
		}
	}

	for i, f := range req.CalldataFilters {
		if f.Offset == nil {
			return Rule{}, fmt.Errorf("calldataFilters[%d]: offset is required", i)
		}
		if uint64(*f.Offset) > 0xffffffff {
			return Rule{}, fmt.Errorf("calldataFilters[%d]: offset out of range", i)
		}
		expected, err := hexutil.Decode(f.SearchBytes)
		if err != nil {
			return Rule{}, fmt.Errorf("calldataFilters[%d]: searchBytes: %w", i, err)
		}
		if len(expected) == 0 {
			return Rule{}, fmt.Errorf("calldataFilters[%d]: searchBytes is empty", i)
		}
		rule.Calldata = append(rule.Calldata, CalldataMatch{Offset: uint32(*f.Offset), Expected: expected})
	}

	return rule, nil
}
