package backends

import "sync/atomic"

// StopFlag is the cooperative cancellation token consulted by the active
// decoding loop at each token or chunk boundary. Interruption does not abort
// in-flight computation; the loop observes the flag at its next check point
// and terminates early, keeping whatever partial sequence was produced.
//
// A fresh flag is created per generation so that interrupting one run can
// never abort the next one before it starts.
type StopFlag struct {
	interrupted atomic.Bool
}

func NewStopFlag() *StopFlag {
	return &StopFlag{}
}

// Interrupt sets the flag. Safe to call from any goroutine, any number of
// times.
func (s *StopFlag) Interrupt() {
	s.interrupted.Store(true)
}

// Interrupted reports whether the flag has been set.
func (s *StopFlag) Interrupted() bool {
	return s.interrupted.Load()
}
