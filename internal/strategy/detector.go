// Package strategy holds the signal detectors the engine evaluates after each
// derived-state recompute.
//
// A Detector inspects one symbol's refreshed series, indicator snapshot and
// confluence read model and emits at most one Signal per evaluation. Detectors
// are pure over their Context: the same bars and scores always produce the
// same signal, which is what makes replay runs reproducible.
package strategy

import (
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Context is everything a detector may look at for one evaluation.
type Context struct {
	Symbol     string
	Bars       []model.Bar        // primary-TF series, ordered ascending
	Snap       indicator.Snapshot // primary-TF indicator snapshot
	Confluence model.Confluence
}

// Detector is the interface all signal detectors implement.
type Detector interface {
	// Name returns the unique strategy name stamped into emitted signals.
	Name() string

	// Evaluate returns a signal if the detector wants to act, or nil to skip.
	Evaluate(ctx Context) *model.Signal
}

// EvaluateAll runs every detector against the same context and collects the
// non-nil signals in registration order.
func EvaluateAll(detectors []Detector, ctx Context) []model.Signal {
	var out []model.Signal
	for _, d := range detectors {
		if sig := d.Evaluate(ctx); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}
