package model

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// FilterMatchMessage is delivered to subscribers whose filters matched, or
// whose blanket gas threshold was met.
type FilterMatchMessage struct {
	Transaction   *RPCTransaction `json:"transaction"`
	FilterMatches []CallEvent     `json:"filterMatches"`
	Logs          []*types.Log    `json:"logs"`
}

// NewFilterMatchMessage builds a filter match message. Both arrays are always
// present on the wire, empty when nothing matched.
func NewFilterMatchMessage(tx *RPCTransaction, matches []CallEvent, logs []*types.Log) FilterMatchMessage {
	if matches == nil {
		matches = []CallEvent{}
	}
	if logs == nil {
		logs = []*types.Log{}
	}
	return FilterMatchMessage{Transaction: tx, FilterMatches: matches, Logs: logs}
}

// TracedTransactionMessage is delivered to events and actions subscribers.
// Actions is null for the events tier.
type TracedTransactionMessage struct {
	Transaction *RPCTransaction `json:"transaction"`
	Events      []*types.Log    `json:"events"`
	Actions     []CallEvent     `json:"actions"`
}
