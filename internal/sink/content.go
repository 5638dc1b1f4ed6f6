package sink

import (
	"io"
	"sync"

	"github.com/streamhub/livecore/internal/bitrate"
	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// ContentOpener resolves a content:// URI to a writable destination. This
// library does not know how to resolve content URIs itself (spec's
// "thin file/content-URI wrappers" are an external collaborator) — the
// embedding application supplies the resolver.
type ContentOpener func(uri string) (io.WriteCloser, error)

// ContentSink writes packets to whatever ContentOpener resolves the
// descriptor's URI to.
type ContentSink struct {
	opener ContentOpener

	mu     sync.Mutex
	writer io.WriteCloser
	opened bool
	bw     *bitrate.BandwidthTracker
}

// NewContentSink creates an unopened content sink using opener to resolve
// URIs at Open time.
func NewContentSink(opener ContentOpener) *ContentSink {
	return &ContentSink{opener: opener, bw: bitrate.NewBandwidthTracker()}
}

func (s *ContentSink) Open(d corepipe.EndpointDescriptor) error {
	if d.Kind != corepipe.EndpointContent {
		return corepipeerrors.New(corepipeerrors.Unsupported, "content-sink.open", nil)
	}
	if s.opener == nil {
		return corepipeerrors.New(corepipeerrors.Config, "content-sink.open", nil)
	}
	w, err := s.opener(d.URI)
	if err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "content-sink.open", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
	s.opened = true
	return nil
}

func (s *ContentSink) Write(p corepipe.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return corepipeerrors.New(corepipeerrors.Closed, "content-sink.write", nil)
	}
	n, err := s.writer.Write(p.Data)
	if err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "content-sink.write", err)
	}
	s.bw.Add(uint64(n))
	return nil
}

func (s *ContentSink) StartStream() error { return nil }

func (s *ContentSink) StopStream() error { return nil }

func (s *ContentSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	err := s.writer.Close()
	s.writer = nil
	if err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "content-sink.close", err)
	}
	return nil
}

func (s *ContentSink) Metrics() bitrate.SinkStats {
	return bitrate.SinkStats{SendBps: s.bw.CurrentBps()}
}

func (s *ContentSink) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}
