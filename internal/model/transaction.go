package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// RPCTransaction is the JSON-RPC representation of a transaction, the same
// shape eth_getTransactionByHash returns.
type RPCTransaction struct {
	BlockHash           *common.Hash      `json:"blockHash"`
	BlockNumber         *hexutil.Big      `json:"blockNumber"`
	From                common.Address    `json:"from"`
	Gas                 hexutil.Uint64    `json:"gas"`
	GasPrice            *hexutil.Big      `json:"gasPrice"`
	GasFeeCap           *hexutil.Big      `json:"maxFeePerGas,omitempty"`
	GasTipCap           *hexutil.Big      `json:"maxPriorityFeePerGas,omitempty"`
	MaxFeePerBlobGas    *hexutil.Big      `json:"maxFeePerBlobGas,omitempty"`
	Hash                common.Hash       `json:"hash"`
	Input               hexutil.Bytes     `json:"input"`
	Nonce               hexutil.Uint64    `json:"nonce"`
	To                  *common.Address   `json:"to"`
	TransactionIndex    *hexutil.Uint64   `json:"transactionIndex"`
	Value               *hexutil.Big      `json:"value"`
	Type                hexutil.Uint64    `json:"type"`
	Accesses            *types.AccessList `json:"accessList,omitempty"`
	ChainID             *hexutil.Big      `json:"chainId,omitempty"`
	BlobVersionedHashes []common.Hash     `json:"blobVersionedHashes,omitempty"`
	V                   *hexutil.Big      `json:"v"`
	R                   *hexutil.Big      `json:"r"`
	S                   *hexutil.Big      `json:"s"`
	YParity             *hexutil.Uint64   `json:"yParity,omitempty"`
}

// NewPendingTransaction builds the representation of a transaction that is
// not yet part of a block.
func NewPendingTransaction(tx *types.Transaction, signer types.Signer) *RPCTransaction {
	return newRPCTransaction(tx, signer, common.Hash{}, nil, 0, nil)
}

// NewBlockTransaction builds the representation of the index'th transaction
// of a block.
func NewBlockTransaction(tx *types.Transaction, signer types.Signer, block *types.Block, index uint64) *RPCTransaction {
	return newRPCTransaction(tx, signer, block.Hash(), block.Number(), index, block.BaseFee())
}

func newRPCTransaction(tx *types.Transaction, signer types.Signer, blockHash common.Hash, number *big.Int, index uint64, baseFee *big.Int) *RPCTransaction {
	from := senderOf(tx, signer)
	v, r, s := tx.RawSignatureValues()
	result := &RPCTransaction{
		Type:     hexutil.Uint64(tx.Type()),
		From:     from,
		Gas:      hexutil.Uint64(tx.Gas()),
		GasPrice: (*hexutil.Big)(tx.GasPrice()),
		Hash:     tx.Hash(),
		Input:    hexutil.Bytes(tx.Data()),
		Nonce:    hexutil.Uint64(tx.Nonce()),
		To:       tx.To(),
		Value:    (*hexutil.Big)(tx.Value()),
		V:        (*hexutil.Big)(v),
		R:        (*hexutil.Big)(r),
		S:        (*hexutil.Big)(s),
	}
	if number != nil {
		result.BlockHash = &blockHash
		result.BlockNumber = (*hexutil.Big)(new(big.Int).Set(number))
		result.TransactionIndex = (*hexutil.Uint64)(&index)
	}

	switch tx.Type() {
	case types.LegacyTxType:
		if tx.Protected() {
			result.ChainID = (*hexutil.Big)(tx.ChainId())
		}
	case types.AccessListTxType:
		setTyped(result, tx, v)
	case types.DynamicFeeTxType, types.BlobTxType:
		setTyped(result, tx, v)
		result.GasFeeCap = (*hexutil.Big)(tx.GasFeeCap())
		result.GasTipCap = (*hexutil.Big)(tx.GasTipCap())
		result.GasPrice = (*hexutil.Big)(effectiveGasPrice(tx, baseFee))
		if tx.Type() == types.BlobTxType {
			result.MaxFeePerBlobGas = (*hexutil.Big)(tx.BlobGasFeeCap())
			result.BlobVersionedHashes = tx.BlobHashes()
		}
	}
	return result
}

func setTyped(result *RPCTransaction, tx *types.Transaction, v *big.Int) {
	al := tx.AccessList()
	if al == nil {
		al = types.AccessList{}
	}
	result.Accesses = &al
	result.ChainID = (*hexutil.Big)(tx.ChainId())
	if v != nil {
		yparity := hexutil.Uint64(v.Uint64())
		result.YParity = &yparity
	}
}

// effectiveGasPrice is the fee cap while pending, and the price actually paid
// once the base fee of the including block is known.
func effectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return tx.GasFeeCap()
	}
	price := new(big.Int).Add(tx.GasTipCap(), baseFee)
	if price.Cmp(tx.GasFeeCap()) > 0 {
		price.Set(tx.GasFeeCap())
	}
	return price
}

// senderOf recovers the sender, or the zero address when the signature is
// invalid or no signer is available.
func senderOf(tx *types.Transaction, signer types.Signer) common.Address {
	if signer == nil {
		signer = types.LatestSignerForChainID(tx.ChainId())
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return common.Address{}
	}
	return from
}
