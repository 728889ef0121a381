package weinstein

import "sync/atomic"

// Sequencer orders overlapping requests for the same view. Each request
// takes a token from Next; when its response arrives, Accept reports
// whether it is still the latest request. Responses to superseded
// requests must be discarded.
type Sequencer struct {
	latest atomic.Uint64
}

// Next issues a new token, superseding every earlier one.
func (s *Sequencer) Next() uint64 {
	return s.latest.Add(1)
}

// Accept reports whether token is the most recently issued one.
func (s *Sequencer) Accept(token uint64) bool {
	return token != 0 && token == s.latest.Load()
}
