// Package safety decides, per conversational turn, whether a human
// coordinator has to take over.
package safety

import (
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// Result is the gate outcome. A zero Result is "clear".
type Result struct {
	Triggered bool            `json:"triggered"`
	Reason    string          `json:"reason,omitempty"`
	Severity  domain.Severity `json:"severity,omitempty"`
	Matched   string          `json:"matched,omitempty"`
}

// ReasonClear labels clear evaluations for latency metrics.
const ReasonClear = "clear"

// LatencyObserver records how long each evaluation took.
type LatencyObserver interface {
	ObserveSafetyEvaluation(reason string, elapsed time.Duration)
}

// Gate evaluates turns against a fixed, ordered rule set. It holds no
// mutable state and performs no I/O, so it is safe for concurrent use.
type Gate struct {
	rules    RuleSet
	observer LatencyObserver
}

// NewGate copies rules; observer may be nil.
func NewGate(rules RuleSet, observer LatencyObserver) *Gate {
	return &Gate{rules: append(RuleSet(nil), rules...), observer: observer}
}

// Evaluate returns the first matching rule's reason and severity.
func (g *Gate) Evaluate(turnText string, cc CallContext) Result {
	started := time.Now()
	result := g.evaluate(Normalize(turnText), cc)
	if g.observer != nil {
		reason := result.Reason
		if !result.Triggered {
			reason = ReasonClear
		}
		g.observer.ObserveSafetyEvaluation(reason, time.Since(started))
	}
	return result
}

func (g *Gate) evaluate(normalized string, cc CallContext) Result {
	for _, rule := range g.rules {
		if matched, ok := rule.match(normalized, cc); ok {
			return Result{
				Triggered: true,
				Reason:    rule.Reason(),
				Severity:  rule.Severity(),
				Matched:   matched,
			}
		}
	}
	return Result{}
}

// Rules returns the rule order the gate evaluates.
func (g *Gate) Rules() RuleSet {
	return append(RuleSet(nil), g.rules...)
}
