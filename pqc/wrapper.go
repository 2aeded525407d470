package pqc

import "fmt"

// Failure records one strategy that did not produce a record.
type Failure struct {
	Strategy string
	Err      error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Strategy, f.Err) }

func (f Failure) Unwrap() error { return f.Err }

// Outcome is the result of Wrapper.Wrap. Record is nil when every strategy
// failed; the caller then keeps the key classical.
type Outcome struct {
	Record   Record
	Strategy string
	Failures []Failure
}

// Wrapper runs strategies in order until one succeeds.
type Wrapper struct {
	strategies []Strategy
}

// NewWrapper returns a Wrapper trying strategies in the given order.
func NewWrapper(strategies ...Strategy) *Wrapper {
	return &Wrapper{strategies: strategies}
}

// Enabled reports whether any strategy is configured.
func (w *Wrapper) Enabled() bool { return w != nil && len(w.strategies) > 0 }

// Wrap returns the first record produced, with the failures before it.
func (w *Wrapper) Wrap(key []byte) Outcome {
	var out Outcome
	if w == nil {
		return out
	}
	for _, s := range w.strategies {
		rec, err := s.Wrap(key)
		if err != nil {
			out.Failures = append(out.Failures, Failure{Strategy: s.Name(), Err: err})
			continue
		}
		out.Record = rec
		out.Strategy = s.Name()
		return out
	}
	return out
}
