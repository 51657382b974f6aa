package tracer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pendingScope/internal/filter"
	"pendingScope/internal/model"
)

// DefaultTimeout bounds a single speculative execution.
const DefaultTimeout = 2 * time.Second

var (
	ErrTimeout         = errors.New("trace timed out")
	ErrHeadUnavailable = errors.New("chain head unavailable")
	ErrExecution       = errors.New("speculative execution failed")
)

// Observer receives what a speculative execution does. Calls arrive in
// execution order, outermost first.
type Observer interface {
	OnCall(call model.CallEvent)
	OnLogs(logs []*types.Log)
}

// Host is the execution environment the tracer runs against. ExecuteReadOnly
// must discard every state change and should return promptly once ctx is done.
type Host interface {
	ChainHead(ctx context.Context) (*types.Header, error)
	ExecuteReadOnly(ctx context.Context, tx *types.Transaction, header *types.Header, obs Observer) error
}

// Options configures one trace.
type Options struct {
	// Rules selects the calls reported in Result.Matched.
	Rules []filter.Rule
	// RecordCalls keeps every call in Result.Calls.
	RecordCalls bool
	Timeout     time.Duration
}

// Result is the outcome of a completed trace. It is never mutated after
// Trace returns.
type Result struct {
	Header  *types.Header
	Matched []model.CallEvent
	Calls   []model.CallEvent
	Logs    []*types.Log
}

// Tracer collects calls and logs from one execution. Once stopped it ignores
// everything the host still reports.
type Tracer struct {
	rules       []filter.Rule
	recordCalls bool
	stopped     atomic.Bool

	mu      sync.Mutex
	matched []model.CallEvent
	calls   []model.CallEvent
	logs    []*types.Log
}

// New returns a Tracer matching calls against rules.
func New(rules []filter.Rule, recordCalls bool) *Tracer {
	return &Tracer{rules: rules, recordCalls: recordCalls}
}

func (t *Tracer) OnCall(call model.CallEvent) {
	if t.stopped.Load() {
		return
	}
	matched := filter.MatchAny(t.rules, call)
	if !matched && !t.recordCalls {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if matched {
		t.matched = append(t.matched, call)
	}
	if t.recordCalls {
		t.calls = append(t.calls, call)
	}
}

func (t *Tracer) OnLogs(logs []*types.Log) {
	if t.stopped.Load() || len(logs) == 0 {
		return
	}
	t.mu.Lock()
	t.logs = append(t.logs, logs...)
	t.mu.Unlock()
}

// Stop interrupts collection.
func (t *Tracer) Stop() {
	t.stopped.Store(true)
}

// Stopped reports whether Stop was called.
func (t *Tracer) Stopped() bool {
	return t.stopped.Load()
}

func (t *Tracer) result(header *types.Header) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Result{
		Header:  header,
		Matched: t.matched,
		Calls:   t.calls,
		Logs:    t.logs,
	}
}

// ProjectHeader builds the header of the block that would follow head. The
// transaction is executed against head's state in this context.
func ProjectHeader(head *types.Header) *types.Header {
	difficulty := new(big.Int)
	if head.Difficulty != nil {
		difficulty.Set(head.Difficulty)
	}
	number := new(big.Int).Add(head.Number, common.Big1)
	header := &types.Header{
		ParentHash: head.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   common.Address{},
		Difficulty: difficulty,
		Number:     number,
		GasLimit:   head.GasLimit,
		Time:       head.Time + 1,
		Extra:      []byte{},
		MixDigest:  head.MixDigest,
	}
	if head.BaseFee != nil {
		header.BaseFee = new(big.Int).Set(head.BaseFee)
	}
	return header
}

// Trace executes tx once on top of the current chain head. On timeout the
// partial execution is discarded and ErrTimeout returned.
func Trace(ctx context.Context, host Host, tx *types.Transaction, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	head, err := host.ChainHead(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrHeadUnavailable, err)
	}
	if head == nil || head.Number == nil {
		return nil, ErrHeadUnavailable
	}
	header := ProjectHeader(head)

	t := New(opts.Rules, opts.RecordCalls)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- host.ExecuteReadOnly(ctx, tx, header, t)
	}()

	select {
	case err := <-done:
		if ctx.Err() != nil {
			t.Stop()
			return nil, interrupted(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecution, err)
		}
		return t.result(header), nil
	case <-ctx.Done():
		t.Stop()
		return nil, interrupted(ctx)
	}
}

func interrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
