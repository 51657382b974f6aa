package filter

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"pendingScope/internal/model"
)

// NoThreshold means no blanket gas threshold has been registered.
const NoThreshold = math.MaxUint64

// DefaultMaxRules caps the rules one subscriber may register.
const DefaultMaxRules = 256

var ErrTooManyRules = errors.New("too many filter rules")

// Snapshot is an immutable view of a subscriber's filters.
type Snapshot struct {
	rules     []Rule
	threshold uint64
}

var emptySnapshot = &Snapshot{threshold: NoThreshold}

// Rules returns the registered rules. Callers must not modify the slice.
func (s *Snapshot) Rules() []Rule {
	return s.rules
}

// Threshold returns the blanket gas threshold, NoThreshold when unset.
func (s *Snapshot) Threshold() uint64 {
	return s.threshold
}

// Filtering reports whether the subscriber has registered any filter.
func (s *Snapshot) Filtering() bool {
	return len(s.rules) > 0 || s.threshold != NoThreshold
}

// Blanket reports whether a transaction with gasLimit meets the blanket
// threshold.
func (s *Snapshot) Blanket(gasLimit uint64) bool {
	return s.threshold != NoThreshold && gasLimit >= s.threshold
}

// Wants reports whether tracing a transaction with gasLimit can be useful to
// this subscriber. Rule gas limits only gate tracing; once a transaction is
// traced every rule takes part in matching.
func (s *Snapshot) Wants(gasLimit uint64) bool {
	if s.Blanket(gasLimit) {
		return true
	}
	for _, rule := range s.rules {
		if gasLimit >= rule.MinGas {
			return true
		}
	}
	return false
}

// Select returns the calls matching any registered rule.
func (s *Snapshot) Select(calls []model.CallEvent) []model.CallEvent {
	if len(s.rules) == 0 {
		return nil
	}
	var out []model.CallEvent
	for _, call := range calls {
		if MatchAny(s.rules, call) {
			out = append(out, call)
		}
	}
	return out
}

// Registry holds one subscriber's filters. Readers take a Snapshot without
// locking; every registration publishes a new Snapshot.
type Registry struct {
	mu       sync.Mutex
	current  atomic.Pointer[Snapshot]
	maxRules int
}

// NewRegistry returns an empty registry. maxRules <= 0 uses DefaultMaxRules.
func NewRegistry(maxRules int) *Registry {
	if maxRules <= 0 {
		maxRules = DefaultMaxRules
	}
	r := &Registry{maxRules: maxRules}
	r.current.Store(emptySnapshot)
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Apply registers a rule, or sets the blanket threshold for a sentinel rule.
func (r *Registry) Apply(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := &Snapshot{rules: prev.rules, threshold: prev.threshold}
	if rule.IsSentinel() {
		next.threshold = rule.MinGas
	} else {
		if len(prev.rules) >= r.maxRules {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRules, r.maxRules)
		}
		rules := make([]Rule, len(prev.rules), len(prev.rules)+1)
		copy(rules, prev.rules)
		next.rules = append(rules, cloneRule(rule))
	}
	r.current.Store(next)
	return nil
}

func cloneRule(rule Rule) Rule {
	out := Rule{MinGas: rule.MinGas}
	if rule.Contract != nil {
		addr := *rule.Contract
		out.Contract = &addr
	}
	if rule.Selector != nil {
		sel := *rule.Selector
		out.Selector = &sel
	}
	if len(rule.Calldata) > 0 {
		out.Calldata = make([]CalldataMatch, len(rule.Calldata))
		for i, m := range rule.Calldata {
			out.Calldata[i] = CalldataMatch{Offset: m.Offset, Expected: append([]byte(nil), m.Expected...)}
		}
	}
	return out
}
