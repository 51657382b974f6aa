package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"pendingScope/internal/metrics"
	"pendingScope/internal/model"
	"pendingScope/internal/subscriber"
	"pendingScope/internal/tracer"
)

// Serializer encodes outbound payloads.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
}

// JSONSerializer encodes payloads with encoding/json.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Config tunes a Dispatcher.
type Config struct {
	Endpoint     string
	TraceTimeout time.Duration
	GasFloor     uint64
	// SendTimeout bounds a single delivery.
	SendTimeout time.Duration
	// MaxTraces bounds concurrent speculative executions.
	MaxTraces int64
	Signer    types.Signer
}

// Report summarizes one broadcast.
type Report struct {
	Traced      bool
	TraceErr    error
	Serialized  int
	Delivered   int
	Failed      int
	Subscribers int
}

// Dispatcher decides what every subscriber receives for a transaction or
// block, computes each distinct payload once and delivers them concurrently.
type Dispatcher struct {
	host       tracer.Host
	cfg        Config
	serializer Serializer
	logger     *zap.Logger
	metrics    *metrics.Metrics
	traces     *semaphore.Weighted
}

func NewDispatcher(host tracer.Host, cfg Config, serializer Serializer, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	if cfg.TraceTimeout <= 0 {
		cfg.TraceTimeout = tracer.DefaultTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxTraces <= 0 {
		cfg.MaxTraces = 64
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "pending"
	}
	return &Dispatcher{
		host:       host,
		cfg:        cfg,
		serializer: serializer,
		logger:     logger,
		metrics:    m,
		traces:     semaphore.NewWeighted(cfg.MaxTraces),
	}
}

// BroadcastTransaction delivers a pending transaction to subs. The
// transaction is traced at most once, and only when some subscriber can use
// the detail. A trace that times out or fails degrades everyone to the plain
// transaction; an unavailable chain head abandons the broadcast.
func (d *Dispatcher) BroadcastTransaction(ctx context.Context, tx *types.Transaction, subs []*subscriber.Subscriber) (Report, error) {
	report := Report{Subscribers: len(subs)}
	if len(subs) == 0 {
		return report, nil
	}
	views := Capture(subs)
	gasLimit := tx.Gas()

	var result *tracer.Result
	if NeedsTrace(gasLimit, d.cfg.GasFloor, views) {
		report.Traced = true
		var err error
		result, err = d.trace(ctx, tx, traceOptions(views))
		if err != nil {
			report.TraceErr = err
			if errors.Is(err, tracer.ErrHeadUnavailable) || ctx.Err() != nil {
				d.logger.Warn("broadcast abandoned", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
				return report, err
			}
			d.logger.Info("trace degraded to plain delivery", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		}
	} else {
		d.metrics.ObserveTrace(metrics.TraceSkipped, 0)
	}

	p := &pendingPayloads{
		tx:     model.NewPendingTransaction(tx, d.cfg.Signer),
		result: result,
		cache:  make(map[string][]byte),
	}
	deliveries := make([]delivery, 0, len(views))
	for _, v := range views {
		decision := Classify(v, gasLimit, result)
		key := payloadKey(decision)
		payload, ok := p.cache[key]
		if !ok {
			var err error
			payload, err = d.serializer.Marshal(p.message(decision))
			if err != nil {
				d.logger.Error("serialize payload", zap.String("tx", tx.Hash().Hex()), zap.String("tier", decision.Tier.String()), zap.Error(err))
				payload = nil
			} else {
				report.Serialized++
				d.metrics.ObserveSerialization(decision.Tier.String())
			}
			p.cache[key] = payload
		}
		if payload == nil {
			report.Failed++
			continue
		}
		deliveries = append(deliveries, delivery{sub: v.Sub, payload: payload})
	}

	delivered, failed := d.fanOut(ctx, deliveries, tx.Hash().Hex())
	report.Delivered += delivered
	report.Failed += failed
	return report, nil
}

// BroadcastBlock delivers a new block to subs. The block is serialized once.
func (d *Dispatcher) BroadcastBlock(ctx context.Context, block *types.Block, subs []*subscriber.Subscriber) (Report, error) {
	report := Report{Subscribers: len(subs)}
	if len(subs) == 0 {
		return report, nil
	}
	msg, err := model.BlockMessage(block, d.cfg.Signer)
	if err != nil {
		return report, fmt.Errorf("build block message: %w", err)
	}
	payload, err := d.serializer.Marshal(msg)
	if err != nil {
		return report, fmt.Errorf("serialize block: %w", err)
	}
	report.Serialized = 1
	d.metrics.ObserveSerialization("block")

	deliveries := make([]delivery, len(subs))
	for i, sub := range subs {
		deliveries[i] = delivery{sub: sub, payload: payload}
	}
	report.Delivered, report.Failed = d.fanOut(ctx, deliveries, block.Hash().Hex())
	return report, nil
}

func (d *Dispatcher) trace(ctx context.Context, tx *types.Transaction, opts tracer.Options) (*tracer.Result, error) {
	if err := d.traces.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.traces.Release(1)

	opts.Timeout = d.cfg.TraceTimeout
	start := time.Now()
	result, err := tracer.Trace(ctx, d.host, tx, opts)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		d.metrics.ObserveTrace(metrics.TraceOK, elapsed)
	case errors.Is(err, tracer.ErrTimeout):
		d.metrics.ObserveTrace(metrics.TraceTimeout, elapsed)
	case errors.Is(err, tracer.ErrHeadUnavailable):
		d.metrics.ObserveTrace(metrics.TraceHeadUnavailable, elapsed)
	default:
		d.metrics.ObserveTrace(metrics.TraceFailed, elapsed)
	}
	return result, err
}

type delivery struct {
	sub     *subscriber.Subscriber
	payload []byte
}

// fanOut sends every delivery concurrently. A failed or panicking send only
// affects its own subscriber.
func (d *Dispatcher) fanOut(ctx context.Context, deliveries []delivery, ref string) (int, int) {
	results := make([]error, len(deliveries))
	var wg conc.WaitGroup
	for i, dl := range deliveries {
		i, dl := i, dl
		results[i] = errPanicked
		wg.Go(func() {
			if !dl.sub.Active() {
				results[i] = subscriber.ErrInactive
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()
			results[i] = dl.sub.Send(sendCtx, dl.payload)
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		d.logger.Error("send task panicked", zap.String("ref", ref), zap.String("panic", recovered.String()))
	}

	var delivered, failed int
	for i, err := range results {
		if errors.Is(err, subscriber.ErrInactive) {
			continue
		}
		d.metrics.ObserveSend(d.cfg.Endpoint, err)
		if err != nil {
			failed++
			d.logger.Debug("send failed",
				zap.String("ref", ref),
				zap.Uint64("subscriber", deliveries[i].sub.ID()),
				zap.String("name", deliveries[i].sub.Name()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered, failed
}

var errPanicked = errors.New("send panicked")

type pendingPayloads struct {
	tx     *model.RPCTransaction
	result *tracer.Result
	cache  map[string][]byte
}

func (p *pendingPayloads) message(decision Decision) interface{} {
	switch decision.Tier {
	case model.TierEvents:
		return model.TracedTransactionMessage{Transaction: p.tx, Events: p.logs()}
	case model.TierActions:
		calls := p.result.Calls
		if calls == nil {
			calls = []model.CallEvent{}
		}
		return model.TracedTransactionMessage{Transaction: p.tx, Events: p.logs(), Actions: calls}
	case model.TierFiltered:
		matches := make([]model.CallEvent, len(decision.Matches))
		for i, idx := range decision.Matches {
			matches[i] = p.result.Matched[idx]
		}
		return model.NewFilterMatchMessage(p.tx, matches, p.result.Logs)
	default:
		return p.tx
	}
}

func (p *pendingPayloads) logs() []*types.Log {
	if p.result.Logs == nil {
		return []*types.Log{}
	}
	return p.result.Logs
}

// payloadKey identifies a distinct payload: the tier, and for filtered
// deliveries the set of matched calls.
func payloadKey(decision Decision) string {
	if decision.Tier != model.TierFiltered {
		return decision.Tier.String()
	}
	var b strings.Builder
	b.WriteString("filtered:")
	for i, idx := range decision.Matches {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}
