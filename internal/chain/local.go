package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"pendingScope/internal/model"
	"pendingScope/internal/tracer"
)

// Backend is the slice of an embedded node the local host needs.
type Backend interface {
	ChainConfig() *params.ChainConfig
	CurrentHeader() *types.Header
	GetHeader(hash common.Hash, number uint64) *types.Header
	// StateAt returns a state the caller may freely modify.
	StateAt(root common.Hash) (*state.StateDB, error)
	SubscribeNewTxsEvent(ch chan<- core.NewTxsEvent) event.Subscription
	SubscribeChainHeadEvent(ch chan<- core.ChainHeadEvent) event.Subscription
}

// Local executes transactions in process against an embedded node's state.
// Execution happens on a throwaway state that is never committed.
type Local struct {
	backend Backend
}

func NewLocal(backend Backend) *Local {
	return &Local{backend: backend}
}

// Signer returns the latest signer for the backend's chain.
func (l *Local) Signer(context.Context) (types.Signer, error) {
	return types.LatestSigner(l.backend.ChainConfig()), nil
}

func (l *Local) ChainHead(context.Context) (*types.Header, error) {
	head := l.backend.CurrentHeader()
	if head == nil {
		return nil, errors.New("no current header")
	}
	return head, nil
}

func (l *Local) ExecuteReadOnly(ctx context.Context, tx *types.Transaction, header *types.Header, obs tracer.Observer) error {
	if header.Number.Sign() == 0 {
		return errors.New("cannot execute on top of nothing")
	}
	parent := l.backend.GetHeader(header.ParentHash, header.Number.Uint64()-1)
	if parent == nil {
		return fmt.Errorf("parent %s not found", header.ParentHash.Hex())
	}
	statedb, err := l.backend.StateAt(parent.Root)
	if err != nil {
		return fmt.Errorf("state at %s: %w", parent.Root.Hex(), err)
	}

	cfg := l.backend.ChainConfig()
	msg, err := core.TransactionToMessage(tx, types.MakeSigner(cfg, header.Number, header.Time), header.BaseFee)
	if err != nil {
		return fmt.Errorf("convert transaction: %w", err)
	}
	msg.SkipAccountChecks = true

	blockCtx := core.NewEVMBlockContext(header, chainContext{l.backend}, &header.Coinbase)
	evm := vm.NewEVM(blockCtx, core.NewEVMTxContext(msg), statedb, cfg, vm.Config{
		Tracer:    &callLogger{obs: obs},
		NoBaseFee: true,
	})
	stop := context.AfterFunc(ctx, evm.Cancel)
	defer stop()

	statedb.SetTxContext(tx.Hash(), 0)
	if _, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(msg.GasLimit)); err != nil {
		return fmt.Errorf("apply message: %w", err)
	}
	obs.OnLogs(statedb.GetLogs(tx.Hash(), header.Number.Uint64(), common.Hash{}))
	return nil
}

// SubscribePendingTransactions forwards transactions entering the pool.
func (l *Local) SubscribePendingTransactions(_ context.Context, ch chan<- *types.Transaction) (ethereum.Subscription, error) {
	events := make(chan core.NewTxsEvent, 64)
	sub := l.backend.SubscribeNewTxsEvent(events)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				return err
			case ev := <-events:
				for _, tx := range ev.Txs {
					select {
					case ch <- tx:
					case <-quit:
						return nil
					}
				}
			}
		}
	}), nil
}

// SubscribeNewBlocks forwards new canonical heads.
func (l *Local) SubscribeNewBlocks(_ context.Context, ch chan<- *types.Block) (ethereum.Subscription, error) {
	events := make(chan core.ChainHeadEvent, 16)
	sub := l.backend.SubscribeChainHeadEvent(events)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				return err
			case ev := <-events:
				if ev.Block == nil {
					continue
				}
				select {
				case ch <- ev.Block:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

type chainContext struct {
	backend Backend
}

// Engine is never consulted: the block context is built with an explicit
// beneficiary.
func (c chainContext) Engine() consensus.Engine {
	return nil
}

func (c chainContext) GetHeader(hash common.Hash, number uint64) *types.Header {
	return c.backend.GetHeader(hash, number)
}

// callLogger adapts the EVM logger hooks to a tracer.Observer. Only call
// boundaries are forwarded.
type callLogger struct {
	obs tracer.Observer
}

func (l *callLogger) CaptureTxStart(uint64) {}

func (l *callLogger) CaptureTxEnd(uint64) {}

func (l *callLogger) CaptureStart(_ *vm.EVM, from common.Address, to common.Address, create bool, input []byte, gas uint64, value *big.Int) {
	kind := model.KindCall
	if create {
		kind = model.KindCreate
	}
	l.obs.OnCall(newCall(kind, from, to, create, input, gas, value))
}

func (l *callLogger) CaptureEnd([]byte, uint64, error) {}

func (l *callLogger) CaptureEnter(typ vm.OpCode, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	kind := opKind(typ)
	create := kind == model.KindCreate || kind == model.KindCreate2
	l.obs.OnCall(newCall(kind, from, to, create, input, gas, value))
}

func (l *callLogger) CaptureExit([]byte, uint64, error) {}

func (l *callLogger) CaptureState(uint64, vm.OpCode, uint64, uint64, *vm.ScopeContext, []byte, int, error) {
}

func (l *callLogger) CaptureFault(uint64, vm.OpCode, uint64, uint64, *vm.ScopeContext, int, error) {
}

func newCall(kind model.CallKind, from, to common.Address, create bool, input []byte, gas uint64, value *big.Int) model.CallEvent {
	call := model.CallEvent{
		Gas:   gas,
		Value: new(uint256.Int),
		From:  from,
		Input: common.CopyBytes(input),
		Kind:  kind,
	}
	if !create {
		dest := to
		call.To = &dest
	}
	if value != nil {
		if v, overflow := uint256.FromBig(value); !overflow {
			call.Value = v
		}
	}
	return call
}

func opKind(op vm.OpCode) model.CallKind {
	switch op {
	case vm.DELEGATECALL:
		return model.KindDelegateCall
	case vm.STATICCALL:
		return model.KindStaticCall
	case vm.CALLCODE:
		return model.KindCallCode
	case vm.CREATE:
		return model.KindCreate
	case vm.CREATE2:
		return model.KindCreate2
	case vm.SELFDESTRUCT:
		return model.KindSelfDestruct
	default:
		return model.KindCall
	}
}
