package sink

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/streamhub/livecore/internal/bitrate"
	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// Conn is the transport connection a network sink writes to. The actual
// SRT/RTMP handshake and wire protocol are external collaborators (spec's
// "SRT/RTMP transport client libraries" are out of scope) — a Conn is
// whatever the embedding application's dialer already negotiated.
type Conn interface {
	io.Writer
	io.Closer
}

// ConnStats is an optional interface a Conn may implement to report
// transport-level statistics (buffer occupancy, RTT, loss) the bitrate
// regulator reads (spec §4.8). A Conn that doesn't implement it reports
// zero values for those fields.
type ConnStats interface {
	Stats() (bufferBytes uint64, rtt time.Duration, lossPercent float64)
}

// Dialer opens a Conn for the given descriptor, performing whatever
// connect/handshake its transport requires.
type Dialer func(ctx context.Context, d corepipe.EndpointDescriptor) (Conn, error)

// networkSink is the shared open/write/close machinery for the SRT and RTMP
// sink variants: both are "dial an external transport, write ordered
// bytes, report its stats" with a circuit breaker around reconnects (spec
// §4.6, supplemented per the teacher's relay reconnect-backoff idiom).
type networkSink struct {
	kind           corepipe.EndpointKind
	op             string
	dial           Dialer
	connectTimeout time.Duration
	breaker        *circuitBreaker

	mu     sync.Mutex
	conn   Conn
	opened bool
	bw     *bitrate.BandwidthTracker
}

func newNetworkSink(kind corepipe.EndpointKind, op string, dial Dialer, connectTimeout time.Duration) *networkSink {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &networkSink{
		kind:           kind,
		op:             op,
		dial:           dial,
		connectTimeout: connectTimeout,
		breaker:        newCircuitBreaker(defaultBreakerConfig()),
		bw:             bitrate.NewBandwidthTracker(),
	}
}

func (s *networkSink) Open(d corepipe.EndpointDescriptor) error {
	if d.Kind != s.kind {
		return corepipeerrors.New(corepipeerrors.Unsupported, s.op+".open", nil)
	}
	if s.dial == nil {
		return corepipeerrors.New(corepipeerrors.Config, s.op+".open", nil)
	}
	if !s.breaker.Allow() {
		return corepipeerrors.New(corepipeerrors.Closed, s.op+".open", nil)
	}

	timeout := s.connectTimeout
	if s.kind == corepipe.EndpointSRT && d.SRTConnectTimeoutMs > 0 {
		timeout = time.Duration(d.SRTConnectTimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	conn, err := s.dial(ctx, d)
	if err != nil {
		s.breaker.RecordFailure()
		return corepipeerrors.New(corepipeerrors.Io, s.op+".open", err)
	}
	s.breaker.RecordSuccess()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.opened = true
	return nil
}

func (s *networkSink) Write(p corepipe.Packet) error {
	s.mu.Lock()
	conn := s.conn
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return corepipeerrors.New(corepipeerrors.Closed, s.op+".write", nil)
	}

	n, err := conn.Write(p.Data)
	if err != nil {
		s.breaker.RecordFailure()
		s.mu.Lock()
		s.opened = false
		s.mu.Unlock()
		return corepipeerrors.New(corepipeerrors.Closed, s.op+".write", err)
	}
	s.bw.Add(uint64(n))
	return nil
}

func (s *networkSink) StartStream() error { return nil }

func (s *networkSink) StopStream() error { return nil }

func (s *networkSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	conn := s.conn
	s.conn = nil
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return corepipeerrors.New(corepipeerrors.Io, s.op+".close", err)
	}
	return nil
}

func (s *networkSink) Metrics() bitrate.SinkStats {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	stats := bitrate.SinkStats{SendBps: s.bw.CurrentBps()}
	if cs, ok := conn.(ConnStats); ok {
		bufBytes, rtt, loss := cs.Stats()
		stats.BufferBytes = bufBytes
		stats.RTT = rtt
		stats.LossPercent = loss
	}
	return stats
}

func (s *networkSink) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}
