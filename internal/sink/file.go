package sink

import (
	"os"
	"sync"

	"github.com/streamhub/livecore/internal/bitrate"
	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// FileSink writes packets to a local file. Open truncates/creates the file
// at EndpointDescriptor.Path; Write appends in order.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	opened bool
	bw     *bitrate.BandwidthTracker
}

// NewFileSink creates an unopened file sink.
func NewFileSink() *FileSink {
	return &FileSink{bw: bitrate.NewBandwidthTracker()}
}

func (s *FileSink) Open(d corepipe.EndpointDescriptor) error {
	if d.Kind != corepipe.EndpointFile {
		return corepipeerrors.New(corepipeerrors.Unsupported, "file-sink.open", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(d.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "file-sink.open", err)
	}
	s.file = f
	s.opened = true
	return nil
}

func (s *FileSink) Write(p corepipe.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return corepipeerrors.New(corepipeerrors.Closed, "file-sink.write", nil)
	}
	n, err := s.file.Write(p.Data)
	if err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "file-sink.write", err)
	}
	s.bw.Add(uint64(n))
	return nil
}

func (s *FileSink) StartStream() error { return nil }

// StopStream flushes pending writes to disk; idempotent.
func (s *FileSink) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "file-sink.stop-stream", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "file-sink.close", err)
	}
	return nil
}

func (s *FileSink) Metrics() bitrate.SinkStats {
	return bitrate.SinkStats{SendBps: s.bw.CurrentBps()}
}

func (s *FileSink) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}
