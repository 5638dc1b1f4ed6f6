// Package endpoint implements the composite endpoint (C9): it binds a
// muxer's packet callback to one or more sinks (spec §4.6), optionally
// fanning a single packet stream out to several destinations at once
// (combine-endpoint).
package endpoint

import (
	"log/slog"
	"sync"

	"github.com/streamhub/livecore/internal/bitrate"
	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
	"github.com/streamhub/livecore/internal/sink"
)

// member pairs one sink with the descriptor it opens against.
type member struct {
	sink       sink.Sink
	descriptor corepipe.EndpointDescriptor
}

// Endpoint fans packets out to every member sink that is currently opened.
// A failure on one sink is logged and does not stop delivery to the
// others; an error is returned to the caller only when every member fails
// (spec §4.6's fan-out rule), applied uniformly to Open/Write/StartStream/
// StopStream for consistency.
type Endpoint struct {
	logger  *slog.Logger
	mu      sync.Mutex
	members []*member
}

// New creates a composite endpoint over sinks, each opened against its
// paired descriptor. len(sinks) must equal len(descriptors).
func New(sinks []sink.Sink, descriptors []corepipe.EndpointDescriptor, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	members := make([]*member, len(sinks))
	for i, s := range sinks {
		var d corepipe.EndpointDescriptor
		if i < len(descriptors) {
			d = descriptors[i]
		}
		members[i] = &member{sink: s, descriptor: d}
	}
	return &Endpoint{members: members, logger: logger}
}

// Open opens every member sink against its paired descriptor.
func (e *Endpoint) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, m := range e.members {
		if err := m.sink.Open(m.descriptor); err != nil {
			e.logger.Warn("endpoint: sink open failed", slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
	}
	if len(errs) == len(e.members) && len(errs) > 0 {
		return corepipeerrors.New(corepipeerrors.Io, "endpoint.open", corepipeerrors.Combine(errs))
	}
	return nil
}

// StartStream starts every opened member sink.
func (e *Endpoint) StartStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	opened := 0
	for _, m := range e.members {
		if !m.sink.IsOpened() {
			continue
		}
		opened++
		if err := m.sink.StartStream(); err != nil {
			e.logger.Warn("endpoint: sink start-stream failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if opened == 0 {
		return corepipeerrors.New(corepipeerrors.Closed, "endpoint.start-stream", nil)
	}
	if len(errs) == opened {
		return corepipeerrors.New(corepipeerrors.Io, "endpoint.start-stream", corepipeerrors.Combine(errs))
	}
	return nil
}

// Write delivers p to every opened member sink. This is the muxer's
// on_output_packet callback target (spec §6.3).
func (e *Endpoint) Write(p corepipe.Packet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	opened := 0
	for _, m := range e.members {
		if !m.sink.IsOpened() {
			continue
		}
		opened++
		if err := m.sink.Write(p); err != nil {
			e.logger.Warn("endpoint: sink write failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if opened == 0 {
		return corepipeerrors.New(corepipeerrors.Closed, "endpoint.write", nil)
	}
	if len(errs) == opened {
		return corepipeerrors.New(corepipeerrors.Io, "endpoint.write", corepipeerrors.Combine(errs))
	}
	return nil
}

// StopStream idempotently stops every member sink, flushing buffered
// writes where the sink supports it.
func (e *Endpoint) StopStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, m := range e.members {
		if err := m.sink.StopStream(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(e.members) && len(errs) > 0 {
		return corepipeerrors.New(corepipeerrors.Io, "endpoint.stop-stream", corepipeerrors.Combine(errs))
	}
	return nil
}

// Close releases every member sink in order, regardless of prior errors.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, m := range e.members {
		if err := m.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return corepipeerrors.Combine(errs)
}

// IsOpened reports whether at least one member sink is currently opened.
func (e *Endpoint) IsOpened() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.members {
		if m.sink.IsOpened() {
			return true
		}
	}
	return false
}

// Metrics aggregates opened member sinks' statistics: summed send
// bandwidth (total outbound throughput), worst-case buffer occupancy,
// RTT, and loss percentage (the regulator reacts to the most congested
// sink, not the average).
func (e *Endpoint) Metrics() bitrate.SinkStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var agg bitrate.SinkStats
	for _, m := range e.members {
		if !m.sink.IsOpened() {
			continue
		}
		s := m.sink.Metrics()
		agg.SendBps += s.SendBps
		if s.BufferBytes > agg.BufferBytes {
			agg.BufferBytes = s.BufferBytes
		}
		if s.RTT > agg.RTT {
			agg.RTT = s.RTT
		}
		if s.LossPercent > agg.LossPercent {
			agg.LossPercent = s.LossPercent
		}
	}
	return agg
}
