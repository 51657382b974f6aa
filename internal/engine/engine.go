package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"pendingScope/internal/broadcast"
	"pendingScope/internal/metrics"
	"pendingScope/internal/subscriber"
	"pendingScope/internal/tracer"
)

const (
	EndpointPending = "pending"
	EndpointBlock   = "block"
)

var (
	ErrUnknownEndpoint  = errors.New("unknown endpoint")
	ErrEndpointDisabled = errors.New("endpoint disabled")
	ErrShutdown         = errors.New("engine is shut down")
)

// Config configures an Engine.
type Config struct {
	PendingEnabled  bool
	BlockEnabled    bool
	ShutdownTimeout time.Duration
	MaxRules        int
	// DedupeSize is how many recent pending hashes are remembered. Zero
	// disables deduplication.
	DedupeSize int
	// ResubscribeBackoff is the first delay before resubscribing to the host.
	ResubscribeBackoff    time.Duration
	ResubscribeMaxBackoff time.Duration
}

// Engine connects host events to subscribers. Host callbacks never block:
// every broadcast runs in its own supervised task.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	pending    *subscriber.Registry
	blocks     *subscriber.Registry
	dispatcher *broadcast.Dispatcher
	blockCast  *broadcast.Dispatcher
	seen       *lru.Cache

	ctx    context.Context
	cancel context.CancelFunc
	// spawnMu orders task registration against Shutdown so no task is
	// added once tasks.Wait has started.
	spawnMu sync.Mutex
	tasks   sync.WaitGroup
	closed  atomic.Bool
}

// New builds an Engine tracing against host.
func New(cfg Config, host tracer.Host, bcfg broadcast.Config, serializer broadcast.Serializer, m *metrics.Metrics, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResubscribeBackoff <= 0 {
		cfg.ResubscribeBackoff = 500 * time.Millisecond
	}
	if cfg.ResubscribeMaxBackoff <= 0 {
		cfg.ResubscribeMaxBackoff = 30 * time.Second
	}

	var seen *lru.Cache
	if cfg.DedupeSize > 0 {
		var err error
		seen, err = lru.New(cfg.DedupeSize)
		if err != nil {
			return nil, fmt.Errorf("create dedupe cache: %w", err)
		}
	}

	opts := subscriber.Options{ShutdownTimeout: cfg.ShutdownTimeout, MaxRules: cfg.MaxRules}
	pendingCfg := bcfg
	pendingCfg.Endpoint = EndpointPending
	blockCfg := bcfg
	blockCfg.Endpoint = EndpointBlock

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		pending:    subscriber.NewRegistry(EndpointPending, opts, logger),
		blocks:     subscriber.NewRegistry(EndpointBlock, opts, logger),
		dispatcher: broadcast.NewDispatcher(host, pendingCfg, serializer, m, logger),
		blockCast:  broadcast.NewDispatcher(host, blockCfg, serializer, m, logger),
		seen:       seen,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (e *Engine) registry(endpoint string) (*subscriber.Registry, error) {
	switch endpoint {
	case EndpointPending:
		if !e.cfg.PendingEnabled {
			return nil, ErrEndpointDisabled
		}
		return e.pending, nil
	case EndpointBlock:
		if !e.cfg.BlockEnabled {
			return nil, ErrEndpointDisabled
		}
		return e.blocks, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
}

// Enabled reports whether endpoint accepts subscribers.
func (e *Engine) Enabled(endpoint string) bool {
	_, err := e.registry(endpoint)
	return err == nil
}

// Counts returns the number of subscribers per enabled endpoint.
func (e *Engine) Counts() map[string]int {
	out := make(map[string]int, 2)
	if e.cfg.PendingEnabled {
		out[EndpointPending] = e.pending.Len()
	}
	if e.cfg.BlockEnabled {
		out[EndpointBlock] = e.blocks.Len()
	}
	return out
}

// Connect registers a new subscriber on endpoint.
func (e *Engine) Connect(endpoint, name string, conn subscriber.Conn) (*subscriber.Subscriber, error) {
	if e.closed.Load() {
		return nil, ErrShutdown
	}
	reg, err := e.registry(endpoint)
	if err != nil {
		return nil, err
	}
	sub, err := reg.Add(name, conn)
	if err != nil {
		return nil, err
	}
	e.metrics.SetSubscribers(endpoint, reg.Len())
	return sub, nil
}

// Disconnect removes a subscriber. Unknown ids are ignored.
func (e *Engine) Disconnect(endpoint string, id uint64) {
	reg, err := e.registry(endpoint)
	if err != nil {
		return
	}
	if _, ok := reg.Remove(id); ok {
		e.metrics.SetSubscribers(endpoint, reg.Len())
	}
}

// Inbound handles a message a subscriber sent. Malformed commands are
// answered with an error reply and change nothing.
func (e *Engine) Inbound(ctx context.Context, endpoint string, id uint64, data []byte) error {
	reg, err := e.registry(endpoint)
	if err != nil {
		return err
	}
	sub, ok := reg.Get(id)
	if !ok {
		return nil
	}
	if endpoint == EndpointBlock {
		return sub.Reply(ctx, subscriber.UnhandledReply)
	}
	if err := sub.HandleCommand(data); err != nil {
		e.metrics.ObserveInboundError(endpoint)
		e.logger.Debug("reject inbound message", zap.Uint64("subscriber", id), zap.Error(err))
		return sub.Reply(ctx, subscriber.ErrorReply(err))
	}
	e.logger.Debug("subscriber updated",
		zap.Uint64("subscriber", id),
		zap.String("tier", sub.Tier().String()),
		zap.Int("rules", len(sub.Filters().Snapshot().Rules())),
	)
	return nil
}

// OnPendingTransaction schedules the broadcast of a pending transaction and
// returns immediately.
func (e *Engine) OnPendingTransaction(tx *types.Transaction) {
	if e.closed.Load() || !e.cfg.PendingEnabled {
		return
	}
	if e.seen != nil {
		if found, _ := e.seen.ContainsOrAdd(tx.Hash(), struct{}{}); found {
			e.metrics.ObservePending("duplicate")
			return
		}
	}
	e.metrics.ObservePending("new")
	subs := e.pending.Snapshot()
	if len(subs) == 0 {
		return
	}
	e.spawn("pending", func(ctx context.Context) {
		if _, err := e.dispatcher.BroadcastTransaction(ctx, tx, subs); err != nil {
			e.logger.Warn("pending broadcast failed", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		}
	})
}

// OnNewBlock schedules the broadcast of a new block and returns immediately.
func (e *Engine) OnNewBlock(block *types.Block) {
	if e.closed.Load() || !e.cfg.BlockEnabled {
		return
	}
	e.metrics.ObserveBlock()
	subs := e.blocks.Snapshot()
	if len(subs) == 0 {
		return
	}
	e.spawn("block", func(ctx context.Context) {
		if _, err := e.blockCast.BroadcastBlock(ctx, block, subs); err != nil {
			e.logger.Warn("block broadcast failed", zap.Uint64("block_number", block.NumberU64()), zap.Error(err))
		}
	})
}

func (e *Engine) spawn(name string, fn func(ctx context.Context)) bool {
	e.spawnMu.Lock()
	if e.closed.Load() {
		e.spawnMu.Unlock()
		return false
	}
	e.tasks.Add(1)
	e.spawnMu.Unlock()

	go func() {
		defer e.tasks.Done()
		var pc panics.Catcher
		pc.Try(func() { fn(e.ctx) })
		if r := pc.Recovered(); r != nil {
			e.logger.Error("broadcast task panicked", zap.String("task", name), zap.String("panic", r.String()))
		}
	}()
	return true
}

// Shutdown stops accepting work, cancels in-flight broadcasts and closes
// every subscriber.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.spawnMu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.spawnMu.Unlock()
		return nil
	}
	e.spawnMu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("broadcast tasks still running at shutdown")
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, reg := range []*subscriber.Registry{e.pending, e.blocks} {
		i, reg := i, reg
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = reg.Shutdown(ctx)
			e.metrics.SetSubscribers(reg.Endpoint(), 0)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
