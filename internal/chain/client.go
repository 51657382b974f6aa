package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"pendingScope/internal/retry"
)

// Client is a remote node reached over JSON-RPC. It serves as the execution
// host for tracing and as the source of pending transactions and new blocks.
type Client struct {
	rpcClient  *rpc.Client
	ethClient  *ethclient.Client
	gethClient *gethclient.Client
	logger     *zap.Logger

	maxRetries   int
	retryBackoff time.Duration

	mu      sync.RWMutex
	chainID *big.Int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry sets how often head and block fetches are retried.
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryBackoff = backoff
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient dials the node at rpcURL. Subscriptions need a websocket or IPC
// endpoint.
func NewClient(ctx context.Context, rpcURL string, opts ...ClientOption) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return newClient(rpcClient, opts...), nil
}

func newClient(rpcClient *rpc.Client, opts ...ClientOption) *Client {
	c := &Client{
		rpcClient:    rpcClient,
		ethClient:    ethclient.NewClient(rpcClient),
		gethClient:   gethclient.New(rpcClient),
		logger:       zap.NewNop(),
		maxRetries:   3,
		retryBackoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	id := c.chainID
	c.mu.RUnlock()
	if id != nil {
		return new(big.Int).Set(id), nil
	}

	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return new(big.Int).Set(id), nil
}

// Signer returns the latest signer for the node's chain.
func (c *Client) Signer(ctx context.Context) (types.Signer, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return types.LatestSignerForChainID(id), nil
}

// ChainHead returns the latest header.
func (c *Client) ChainHead(ctx context.Context) (*types.Header, error) {
	var head *types.Header
	err := retry.Do(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		head, err = c.ethClient.HeaderByNumber(ctx, nil)
		if err != nil {
			c.logger.Warn("fetch chain head failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return head, nil
}

// BlockByHash returns the block with full transactions.
func (c *Client) BlockByHash(ctx context.Context, header *types.Header) (*types.Block, error) {
	var block *types.Block
	err := retry.Do(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		block, err = c.ethClient.BlockByHash(ctx, header.Hash())
		if err != nil {
			c.logger.Warn("fetch block failed", zap.Error(err), zap.Uint64("block_number", header.Number.Uint64()))
		}
		return err
	})
	return block, err
}

// SubscribePendingTransactions streams full pending transactions into ch.
func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- *types.Transaction) (ethereum.Subscription, error) {
	sub, err := c.gethClient.SubscribeFullPendingTransactions(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe pending transactions: %w", err)
	}
	return sub, nil
}

// SubscribeNewBlocks streams every new canonical block, with transactions,
// into ch.
func (c *Client) SubscribeNewBlocks(ctx context.Context, ch chan<- *types.Block) (ethereum.Subscription, error) {
	heads := make(chan *types.Header, 16)
	headSub, err := c.ethClient.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, fmt.Errorf("subscribe new heads: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer headSub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-headSub.Err():
				return err
			case header := <-heads:
				block, err := c.BlockByHash(ctx, header)
				if err != nil {
					c.logger.Error("drop new head", zap.Error(err), zap.String("hash", header.Hash().Hex()))
					continue
				}
				select {
				case ch <- block:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}
