package model

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FrameKind classifies a frame received from a push endpoint.
type FrameKind string

const (
	FrameTransaction FrameKind = "transaction"
	FrameEvents      FrameKind = "events"
	FrameActions     FrameKind = "actions"
	FrameFiltered    FrameKind = "filtered"
	FrameBlock       FrameKind = "block"
	FrameReply       FrameKind = "reply"
)

// Frame is the normalized representation of a received push frame for
// storage.
type Frame struct {
	SessionID   string          `json:"session_id"`
	Endpoint    string          `json:"endpoint"`
	Kind        FrameKind       `json:"kind"`
	TxHash      string          `json:"tx_hash,omitempty"`
	BlockNumber uint64          `json:"block_number,omitempty"`
	Methods     []string        `json:"methods,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
}

type frameProbe struct {
	Hash          string            `json:"hash"`
	Number        string            `json:"number"`
	Transactions  json.RawMessage   `json:"transactions"`
	Transaction   *frameTxProbe     `json:"transaction"`
	FilterMatches []json.RawMessage `json:"filterMatches"`
	Events        json.RawMessage   `json:"events"`
	Actions       json.RawMessage   `json:"actions"`
}

type frameTxProbe struct {
	Hash string `json:"hash"`
}

// ClassifyFrame inspects a payload and fills Kind, TxHash and BlockNumber.
// It returns the decodable filter matches of a filtered frame. Anything that
// is not a JSON object is a server reply.
func ClassifyFrame(frame *Frame) []CallEvent {
	var probe frameProbe
	if err := json.Unmarshal(frame.Payload, &probe); err != nil {
		frame.Kind = FrameReply
		return nil
	}
	var matches []CallEvent
	switch {
	case probe.FilterMatches != nil:
		frame.Kind = FrameFiltered
		for _, raw := range probe.FilterMatches {
			var call CallEvent
			if err := json.Unmarshal(raw, &call); err == nil {
				matches = append(matches, call)
			}
		}
	case probe.Events != nil:
		frame.Kind = FrameEvents
		if probe.Actions != nil && string(probe.Actions) != "null" {
			frame.Kind = FrameActions
		}
	case probe.Transactions != nil:
		frame.Kind = FrameBlock
		if n, err := hexutil.DecodeUint64(probe.Number); err == nil {
			frame.BlockNumber = n
		}
		return nil
	default:
		frame.Kind = FrameTransaction
	}
	if probe.Transaction != nil {
		frame.TxHash = probe.Transaction.Hash
	} else {
		frame.TxHash = probe.Hash
	}
	return matches
}
