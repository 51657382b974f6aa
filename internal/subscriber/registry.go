package subscriber

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds each subscriber's close handshake.
const DefaultShutdownTimeout = 10 * time.Second

var ErrClosed = errors.New("subscriber registry is shut down")

// Options configures a Registry.
type Options struct {
	// ShutdownTimeout bounds each subscriber's close handshake.
	ShutdownTimeout time.Duration
	// MaxRules caps filter rules per subscriber.
	MaxRules int
}

// Registry tracks the subscribers of one endpoint.
type Registry struct {
	endpoint string
	opts     Options
	logger   *zap.Logger
	lastID   atomic.Uint64

	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	closed bool
}

func NewRegistry(endpoint string, opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Registry{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger,
		subs:     make(map[uint64]*Subscriber),
	}
}

// Endpoint returns the endpoint name.
func (r *Registry) Endpoint() string {
	return r.endpoint
}

// Add registers a connection under a fresh id. Ids are never reused.
func (r *Registry) Add(name string, conn Conn) (*Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	sub := newSubscriber(r.lastID.Add(1), name, conn, r.opts.MaxRules)
	r.subs[sub.id] = sub
	r.logger.Info("subscriber added", zap.String("endpoint", r.endpoint), zap.Uint64("id", sub.id), zap.String("name", name))
	return sub, nil
}

// Remove unregisters a subscriber. Removing an unknown id is a no-op.
func (r *Registry) Remove(id uint64) (*Subscriber, bool) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	sub.deactivate()
	r.logger.Info("subscriber removed", zap.String("endpoint", r.endpoint), zap.Uint64("id", id), zap.String("name", sub.name))
	return sub, true
}

// Get returns a registered subscriber.
func (r *Registry) Get(id uint64) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// Snapshot returns the current subscribers ordered by id.
func (r *Registry) Snapshot() []*Subscriber {
	r.mu.RLock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Shutdown closes every subscriber concurrently. Each close handshake has
// its own timeout; a subscriber that does not finish in time is aborted.
// Later calls to Add fail with ErrClosed.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	subs := make([]*Subscriber, 0, len(r.subs))
	for id, sub := range r.subs {
		subs = append(subs, sub)
		delete(r.subs, id)
	}
	r.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	var wg conc.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Go(func() {
			sub.deactivate()
			if err := r.closeOne(ctx, sub); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		})
	}
	wg.Wait()

	r.logger.Info("subscribers closed", zap.String("endpoint", r.endpoint), zap.Int("count", len(subs)))
	return errors.Join(errs...)
}

func (r *Registry) closeOne(ctx context.Context, sub *Subscriber) error {
	closeCtx, cancel := context.WithTimeout(ctx, r.opts.ShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sub.conn.Close(closeCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-closeCtx.Done():
		err = closeCtx.Err()
	}
	if err == nil {
		return nil
	}

	r.logger.Warn("close handshake failed, aborting",
		zap.String("endpoint", r.endpoint),
		zap.Uint64("id", sub.id),
		zap.String("name", sub.name),
		zap.Error(err),
	)
	return sub.conn.Abort()
}
