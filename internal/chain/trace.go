package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"pendingScope/internal/model"
	"pendingScope/internal/tracer"
)

// callFrame is one frame of the node's callTracer output.
type callFrame struct {
	Type    string          `json:"type"`
	From    common.Address  `json:"from"`
	To      *common.Address `json:"to"`
	Gas     hexutil.Uint64  `json:"gas"`
	GasUsed hexutil.Uint64  `json:"gasUsed"`
	Input   hexutil.Bytes   `json:"input"`
	Value   *hexutil.Big    `json:"value"`
	Error   string          `json:"error"`
	Calls   []callFrame     `json:"calls"`
	Logs    []callLog       `json:"logs"`
}

type callLog struct {
	Address  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics"`
	Data     hexutil.Bytes  `json:"data"`
	Position hexutil.Uint   `json:"position"`
}

type callArgs struct {
	From       common.Address    `json:"from"`
	To         *common.Address   `json:"to"`
	Gas        hexutil.Uint64    `json:"gas"`
	Value      *hexutil.Big      `json:"value"`
	Input      hexutil.Bytes     `json:"input"`
	Nonce      hexutil.Uint64    `json:"nonce"`
	AccessList *types.AccessList `json:"accessList,omitempty"`
}

type blockOverrides struct {
	Number     *hexutil.Big   `json:"number"`
	Difficulty *hexutil.Big   `json:"difficulty"`
	Time       hexutil.Uint64 `json:"time"`
	GasLimit   hexutil.Uint64 `json:"gasLimit"`
	Coinbase   common.Address `json:"coinbase"`
	Random     common.Hash    `json:"random"`
	BaseFee    *hexutil.Big   `json:"baseFee,omitempty"`
}

type traceCallConfig struct {
	Tracer         string                 `json:"tracer"`
	TracerConfig   map[string]interface{} `json:"tracerConfig"`
	Timeout        string                 `json:"timeout,omitempty"`
	BlockOverrides *blockOverrides        `json:"blockOverrides"`
}

// ExecuteReadOnly runs tx on the node with debug_traceCall on top of the
// header's parent, with the block context replaced by header. Nothing is
// committed on the node.
func (c *Client) ExecuteReadOnly(ctx context.Context, tx *types.Transaction, header *types.Header, obs tracer.Observer) error {
	signer, err := c.Signer(ctx)
	if err != nil {
		return err
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}

	args := callArgs{
		From:  from,
		To:    tx.To(),
		Gas:   hexutil.Uint64(tx.Gas()),
		Value: (*hexutil.Big)(tx.Value()),
		Input: tx.Data(),
		Nonce: hexutil.Uint64(tx.Nonce()),
	}
	if al := tx.AccessList(); len(al) > 0 {
		args.AccessList = &al
	}

	cfg := traceCallConfig{
		Tracer:       "callTracer",
		TracerConfig: map[string]interface{}{"withLog": true},
		BlockOverrides: &blockOverrides{
			Number:     (*hexutil.Big)(header.Number),
			Difficulty: (*hexutil.Big)(header.Difficulty),
			Time:       hexutil.Uint64(header.Time),
			GasLimit:   hexutil.Uint64(header.GasLimit),
			Coinbase:   header.Coinbase,
			Random:     header.MixDigest,
			BaseFee:    (*hexutil.Big)(header.BaseFee),
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			cfg.Timeout = remaining.String()
		}
	}

	var root callFrame
	if err := c.rpcClient.CallContext(ctx, &root, "debug_traceCall", args, header.ParentHash, cfg); err != nil {
		return fmt.Errorf("debug_traceCall: %w", err)
	}
	if root.Type == "" {
		return errors.New("debug_traceCall: empty trace")
	}

	replay(root, tx.Hash(), header.Number, obs)
	return nil
}

// replay reports the frames pre-order, then the logs that survived, in the
// order they were emitted.
func replay(root callFrame, txHash common.Hash, number *big.Int, obs tracer.Observer) {
	var logs []*types.Log
	var walk func(frame callFrame)
	walk = func(frame callFrame) {
		obs.OnCall(frameToCall(frame))
		next := 0
		emit := func(upTo int) {
			for next < len(frame.Logs) && int(frame.Logs[next].Position) <= upTo {
				l := frame.Logs[next]
				logs = append(logs, &types.Log{
					Address:     l.Address,
					Topics:      l.Topics,
					Data:        l.Data,
					BlockNumber: number.Uint64(),
					TxHash:      txHash,
					Index:       uint(len(logs)),
				})
				next++
			}
		}
		for i, child := range frame.Calls {
			emit(i)
			walk(child)
		}
		emit(len(frame.Calls))
	}
	walk(root)
	obs.OnLogs(logs)
}

func frameToCall(frame callFrame) model.CallEvent {
	kind, ok := model.ParseCallKind(frame.Type)
	if !ok {
		kind = model.KindCall
	}
	value := new(uint256.Int)
	if frame.Value != nil {
		if v, overflow := uint256.FromBig(frame.Value.ToInt()); !overflow {
			value = v
		}
	}
	return model.CallEvent{
		Gas:   uint64(frame.Gas),
		Value: value,
		From:  frame.From,
		To:    frame.To,
		Input: frame.Input,
		Kind:  kind,
	}
}
