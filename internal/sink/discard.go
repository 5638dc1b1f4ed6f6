package sink

import (
	"sync"
	"sync/atomic"

	"github.com/streamhub/livecore/internal/bitrate"
	"github.com/streamhub/livecore/internal/corepipe"
)

// DiscardSink accepts any EndpointDescriptor and drops every packet after
// counting its bytes. It models the "raw callback sink" output variant
// spec §4.7 allows in place of a muxer+endpoint tuple, and stands in for a
// second live output in scenarios that only need to confirm multi-output
// fan-out doesn't perturb the other consumer (spec §8.2 S4).
type DiscardSink struct {
	mu         sync.Mutex
	opened     bool
	bytesTotal atomic.Uint64
}

// NewDiscardSink creates an unopened discard sink.
func NewDiscardSink() *DiscardSink { return &DiscardSink{} }

func (s *DiscardSink) Open(corepipe.EndpointDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *DiscardSink) Write(p corepipe.Packet) error {
	s.bytesTotal.Add(uint64(len(p.Data)))
	return nil
}

func (s *DiscardSink) StartStream() error { return nil }
func (s *DiscardSink) StopStream() error  { return nil }

func (s *DiscardSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

func (s *DiscardSink) Metrics() bitrate.SinkStats {
	return bitrate.SinkStats{SendBps: s.bytesTotal.Load()}
}

func (s *DiscardSink) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// BytesWritten returns the cumulative bytes written, for test assertions.
func (s *DiscardSink) BytesWritten() uint64 {
	return s.bytesTotal.Load()
}
