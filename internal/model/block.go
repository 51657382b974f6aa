package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockMessage renders a block with full transaction objects, the shape of
// eth_getBlockByHash(hash, true).
func BlockMessage(block *types.Block, signer types.Signer) (map[string]interface{}, error) {
	headerJSON, err := json.Marshal(block.Header())
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(headerJSON, &fields); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	txs := block.Transactions()
	transactions := make([]*RPCTransaction, len(txs))
	for i, tx := range txs {
		transactions[i] = NewBlockTransaction(tx, signer, block, uint64(i))
	}
	uncles := make([]common.Hash, len(block.Uncles()))
	for i, uncle := range block.Uncles() {
		uncles[i] = uncle.Hash()
	}

	fields["hash"] = block.Hash()
	fields["size"] = hexutil.Uint64(block.Size())
	fields["transactions"] = transactions
	fields["uncles"] = uncles
	if withdrawals := block.Withdrawals(); withdrawals != nil {
		fields["withdrawals"] = withdrawals
	}
	return fields, nil
}
