package model

import (
	"fmt"
	"strings"
)

// Tier is the level of execution detail a subscriber receives.
type Tier uint8

const (
	// TierNone delivers the plain transaction.
	TierNone Tier = iota
	// TierEvents adds the logs emitted by speculative execution.
	TierEvents
	// TierActions adds logs and every internal call.
	TierActions
	// TierFiltered delivers the calls matching a subscriber's filter rules.
	TierFiltered
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierEvents:
		return "events"
	case TierActions:
		return "actions"
	case TierFiltered:
		return "filtered"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Detailed reports whether the tier needs a trace.
func (t Tier) Detailed() bool {
	return t != TierNone
}

// ParseTier parses a subscriber tier command. Matching is case-insensitive
// and only the negotiable tiers (none, events, actions) are accepted.
func ParseTier(value string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none":
		return TierNone, true
	case "events":
		return TierEvents, true
	case "actions":
		return TierActions, true
	default:
		return TierNone, false
	}
}
