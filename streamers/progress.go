package streamers

import "time"

// ProgressUpdate reports one step of a fixed-length decode. Progress is the
// completed fraction in [0,1], Time the elapsed milliseconds since the
// warm-up step.
type ProgressUpdate struct {
	Count    int     `json:"count"`
	Total    int     `json:"total"`
	Progress float64 `json:"progress"`
	Time     float64 `json:"time"`
}

// ProgressStreamer tracks a decode whose step count is known up front, such
// as image-token generation. The first put is the warm-up step: it seeds the
// clock and emits no update.
type ProgressStreamer struct {
	OnUpdate func(ProgressUpdate)
	Now      func() time.Time

	total     int
	count     int
	started   bool
	startTime time.Time
}

func NewProgressStreamer(total int, onUpdate func(ProgressUpdate)) *ProgressStreamer {
	return &ProgressStreamer{total: total, OnUpdate: onUpdate}
}

func (s *ProgressStreamer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Put consumes one decode step.
func (s *ProgressStreamer) Put() {
	now := s.now()
	if !s.started {
		s.started = true
		s.startTime = now
		return
	}
	s.count++
	if s.OnUpdate == nil {
		return
	}
	progress := 0.0
	if s.total > 0 {
		progress = float64(s.count) / float64(s.total)
	}
	s.OnUpdate(ProgressUpdate{
		Count:    s.count,
		Total:    s.total,
		Progress: progress,
		Time:     float64(now.Sub(s.startTime)) / float64(time.Millisecond),
	})
}

// Count returns the number of steps consumed, warm-up excluded.
func (s *ProgressStreamer) Count() int {
	return s.count
}
