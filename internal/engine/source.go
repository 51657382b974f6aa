package engine

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"pendingScope/internal/retry"
)

// EventSource delivers host events.
type EventSource interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- *types.Transaction) (ethereum.Subscription, error)
	SubscribeNewBlocks(ctx context.Context, ch chan<- *types.Block) (ethereum.Subscription, error)
}

// Run feeds events from source into the engine until ctx is done. Broken
// subscriptions are re-established with exponential backoff.
func (e *Engine) Run(ctx context.Context, source EventSource) error {
	var wg conc.WaitGroup
	if e.cfg.PendingEnabled {
		wg.Go(func() {
			pump(ctx, e, "pending transactions", source.SubscribePendingTransactions, e.OnPendingTransaction)
		})
	}
	if e.cfg.BlockEnabled {
		wg.Go(func() {
			pump(ctx, e, "new blocks", source.SubscribeNewBlocks, e.OnNewBlock)
		})
	}
	wg.Wait()
	return ctx.Err()
}

func pump[T any](
	ctx context.Context,
	e *Engine,
	name string,
	subscribe func(context.Context, chan<- T) (ethereum.Subscription, error),
	handle func(T),
) {
	backoff := retry.Backoff{Base: e.cfg.ResubscribeBackoff, Max: e.cfg.ResubscribeMaxBackoff}
	for ctx.Err() == nil {
		ch := make(chan T, 256)
		sub, err := subscribe(ctx, ch)
		if err != nil {
			delay := backoff.Next()
			e.logger.Warn("subscribe failed", zap.String("stream", name), zap.Duration("retry_in", delay), zap.Error(err))
			if retry.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		e.logger.Info("subscribed", zap.String("stream", name))

		err = consume(ctx, sub, ch, handle, backoff.Reset)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return
		}
		delay := backoff.Next()
		e.logger.Warn("subscription dropped", zap.String("stream", name), zap.Duration("retry_in", delay), zap.Error(err))
		if retry.Sleep(ctx, delay) != nil {
			return
		}
	}
}

func consume[T any](ctx context.Context, sub ethereum.Subscription, ch <-chan T, handle func(T), onEvent func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case item := <-ch:
			onEvent()
			handle(item)
		}
	}
}
