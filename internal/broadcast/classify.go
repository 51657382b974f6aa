package broadcast

import (
	"pendingScope/internal/filter"
	"pendingScope/internal/model"
	"pendingScope/internal/subscriber"
	"pendingScope/internal/tracer"
)

// DefaultGasFloor is the gas limit of a plain value transfer. Transactions
// at or below it cannot call contracts and are never traced.
const DefaultGasFloor = 21000

// View is what a subscriber wants at the moment a broadcast starts.
type View struct {
	Sub     *subscriber.Subscriber
	Tier    model.Tier
	Filters *filter.Snapshot
}

// Capture takes a consistent view of each subscriber. Later tier or filter
// changes do not affect a broadcast already in progress.
func Capture(subs []*subscriber.Subscriber) []View {
	views := make([]View, 0, len(subs))
	for _, sub := range subs {
		views = append(views, View{Sub: sub, Tier: sub.Tier(), Filters: sub.Filters().Snapshot()})
	}
	return views
}

// Filtering reports whether the subscriber is in filter mode. Registered
// filters take over from the negotiated tier.
func (v View) Filtering() bool {
	return v.Filters != nil && v.Filters.Filtering()
}

// wantsDetail reports whether the subscriber might need more than the plain
// transaction for a transaction with gasLimit.
func (v View) wantsDetail(gasLimit uint64) bool {
	if v.Filtering() {
		return v.Filters.Wants(gasLimit)
	}
	return v.Tier.Detailed()
}

// NeedsTrace decides whether a transaction is worth executing at all.
func NeedsTrace(gasLimit, gasFloor uint64, views []View) bool {
	if gasLimit <= gasFloor {
		return false
	}
	for _, v := range views {
		if v.wantsDetail(gasLimit) {
			return true
		}
	}
	return false
}

// traceOptions merges what all subscribers need from one execution.
func traceOptions(views []View) tracer.Options {
	var opts tracer.Options
	for _, v := range views {
		if v.Filtering() {
			opts.Rules = append(opts.Rules, v.Filters.Rules()...)
			continue
		}
		if v.Tier == model.TierActions {
			opts.RecordCalls = true
		}
	}
	return opts
}

// Decision is the delivery chosen for one subscriber.
type Decision struct {
	Tier model.Tier
	// Matches indexes Result.Matched, for the filtered tier only.
	Matches []int
}

// Classify picks the tier one subscriber gets for a traced transaction. A
// subscriber whose rules matched always gets the filtered tier; otherwise the
// blanket threshold decides. Without a trace result everyone gets the plain
// transaction.
func Classify(v View, gasLimit uint64, result *tracer.Result) Decision {
	if result == nil {
		return Decision{Tier: model.TierNone}
	}
	if !v.Filtering() {
		return Decision{Tier: v.Tier}
	}

	var matches []int
	if rules := v.Filters.Rules(); len(rules) > 0 {
		for i, call := range result.Matched {
			if filter.MatchAny(rules, call) {
				matches = append(matches, i)
			}
		}
	}
	if len(matches) > 0 || v.Filters.Blanket(gasLimit) {
		return Decision{Tier: model.TierFiltered, Matches: matches}
	}
	return Decision{Tier: model.TierNone}
}
