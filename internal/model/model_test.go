package model

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func TestParseTierCaseInsensitive(t *testing.T) {
	cases := map[string]Tier{
		"none":     TierNone,
		"Events":   TierEvents,
		"ACTIONS":  TierActions,
		" events ": TierEvents,
	}
	for input, want := range cases {
		got, ok := ParseTier(input)
		if !ok {
			t.Fatalf("ParseTier(%q) rejected", input)
		}
		if got != want {
			t.Fatalf("ParseTier(%q) = %s, want %s", input, got, want)
		}
	}

	for _, input := range []string{"", "filtered", "logs", "{}"} {
		if _, ok := ParseTier(input); ok {
			t.Fatalf("ParseTier(%q) should fail", input)
		}
	}
}

func TestCallEventJSONFields(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	call := CallEvent{
		Gas:   50000,
		Value: uint256.NewInt(255),
		From:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:    &to,
		Input: []byte{0xa9, 0x05, 0x9c, 0xbb},
		Kind:  KindDelegateCall,
	}

	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["callType"] != "delegatecall" {
		t.Fatalf("unexpected callType: %v", decoded["callType"])
	}
	if decoded["gas"] != "0xc350" {
		t.Fatalf("unexpected gas: %v", decoded["gas"])
	}
	if decoded["value"] != "0xff" {
		t.Fatalf("unexpected value: %v", decoded["value"])
	}
	if decoded["input"] != "0xa9059cbb" {
		t.Fatalf("unexpected input: %v", decoded["input"])
	}

	var back CallEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode call failed: %v", err)
	}
	if back.Kind != KindDelegateCall || back.Gas != 50000 || back.Destination() != to {
		t.Fatalf("decoded call mismatch: %+v", back)
	}
}

func TestCallEventCreationHasNullTarget(t *testing.T) {
	data, err := json.Marshal(CallEvent{Kind: KindCreate})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"to":null`) {
		t.Fatalf("creation should have null target: %s", data)
	}
	if !strings.Contains(string(data), `"value":"0x0"`) {
		t.Fatalf("missing value should encode as zero: %s", data)
	}
}

func TestFilterMatchMessageEmptyArrays(t *testing.T) {
	msg := NewFilterMatchMessage(&RPCTransaction{}, nil, nil)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if string(decoded["filterMatches"]) != "[]" {
		t.Fatalf("filterMatches should be empty array, got %s", decoded["filterMatches"])
	}
	if string(decoded["logs"]) != "[]" {
		t.Fatalf("logs should be empty array, got %s", decoded["logs"])
	}
	if _, ok := decoded["transaction"]; !ok {
		t.Fatalf("transaction missing")
	}
}

func TestTracedMessageEventsTierHasNullActions(t *testing.T) {
	msg := TracedTransactionMessage{Transaction: &RPCTransaction{}, Events: []*types.Log{}}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"actions":null`) {
		t.Fatalf("events tier should carry null actions: %s", data)
	}
}

func TestPendingTransactionRecoversSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	chainID := big.NewInt(1)
	signer := types.LatestSignerForChainID(chainID)
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(2),
		GasFeeCap: big.NewInt(100),
		Gas:       90000,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      []byte{0xa9, 0x05, 0x9c, 0xbb},
	}), signer, key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}

	rpcTx := NewPendingTransaction(tx, signer)
	if rpcTx.From != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected sender %s", rpcTx.From.Hex())
	}
	if rpcTx.BlockHash != nil || rpcTx.BlockNumber != nil || rpcTx.TransactionIndex != nil {
		t.Fatalf("pending transaction must not carry block fields")
	}
	if rpcTx.GasPrice.ToInt().Int64() != 100 {
		t.Fatalf("pending gas price should be the fee cap, got %s", rpcTx.GasPrice.ToInt())
	}
	if uint64(rpcTx.Gas) != 90000 || uint64(rpcTx.Nonce) != 7 {
		t.Fatalf("unexpected gas/nonce: %d/%d", rpcTx.Gas, rpcTx.Nonce)
	}

	data, err := json.Marshal(rpcTx)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"blockHash":null`) {
		t.Fatalf("pending transaction should have null blockHash: %s", data)
	}
}

func TestUnsignedTransactionHasZeroSender(t *testing.T) {
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx := types.NewTx(&types.LegacyTx{Gas: 21000, To: &to, Value: big.NewInt(1), GasPrice: big.NewInt(1)})

	rpcTx := NewPendingTransaction(tx, types.LatestSignerForChainID(big.NewInt(1)))
	if rpcTx.From != (common.Address{}) {
		t.Fatalf("expected zero sender, got %s", rpcTx.From.Hex())
	}
}

func TestBlockMessageCarriesFullTransactions(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := types.LatestSignerForChainID(big.NewInt(1))
	to := common.HexToAddress("0x4444444444444444444444444444444444444444")
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{Gas: 21000, To: &to, GasPrice: big.NewInt(1), Value: big.NewInt(0)}), signer, key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	header := &types.Header{Number: big.NewInt(10), Difficulty: big.NewInt(0), GasLimit: 30_000_000, Time: 1000}
	block := types.NewBlockWithHeader(header).WithBody([]*types.Transaction{tx}, nil)

	fields, err := BlockMessage(block, signer)
	if err != nil {
		t.Fatalf("block message: %v", err)
	}
	txs, ok := fields["transactions"].([]*RPCTransaction)
	if !ok || len(txs) != 1 {
		t.Fatalf("unexpected transactions: %#v", fields["transactions"])
	}
	if txs[0].BlockHash == nil || *txs[0].BlockHash != block.Hash() {
		t.Fatalf("transaction should reference its block")
	}
	if fields["number"] != "0xa" {
		t.Fatalf("unexpected number: %v", fields["number"])
	}
}

func TestClassifyFrame(t *testing.T) {
	cases := []struct {
		payload string
		kind    FrameKind
		hash    string
		block   uint64
	}{
		{`{"hash":"0x01","nonce":"0x0"}`, FrameTransaction, "0x01", 0},
		{`{"transaction":{"hash":"0x02"},"events":[],"actions":null}`, FrameEvents, "0x02", 0},
		{`{"transaction":{"hash":"0x03"},"events":[],"actions":[]}`, FrameActions, "0x03", 0},
		{`{"transaction":{"hash":"0x04"},"filterMatches":[],"logs":[]}`, FrameFiltered, "0x04", 0},
		{`{"hash":"0x05","number":"0x10","transactions":[]}`, FrameBlock, "", 16},
		{`Exception occurred while processing request: boom`, FrameReply, "", 0},
	}
	for _, tc := range cases {
		frame := Frame{Payload: []byte(tc.payload)}
		ClassifyFrame(&frame)
		if frame.Kind != tc.kind || frame.TxHash != tc.hash || frame.BlockNumber != tc.block {
			t.Fatalf("%s: got kind=%s hash=%q block=%d", tc.payload, frame.Kind, frame.TxHash, frame.BlockNumber)
		}
	}
}

func TestClassifyFrameDecodesMatches(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	call := CallEvent{To: &to, Gas: 5000, Input: []byte{0x02, 0x2c, 0x0d, 0x9f}}
	data, err := json.Marshal(NewFilterMatchMessage(&RPCTransaction{}, []CallEvent{call}, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame := Frame{Payload: data}
	matches := ClassifyFrame(&frame)
	if len(matches) != 1 || matches[0].Destination() != to || matches[0].Gas != 5000 {
		t.Fatalf("unexpected matches %+v", matches)
	}
}
