// Package sink implements the composite-endpoint sink family (C8): file,
// content-URI, SRT, and RTMP destinations behind one interface, each
// variant failing Open with Unsupported when the descriptor's tag does not
// match it (spec §4.6).
package sink

import (
	"github.com/streamhub/livecore/internal/bitrate"
	"github.com/streamhub/livecore/internal/corepipe"
)

// Sink is the common lifecycle every destination variant implements.
// StopStream is idempotent; Close releases the underlying resource and may
// be called whether or not the sink ever opened successfully.
type Sink interface {
	Open(d corepipe.EndpointDescriptor) error
	Write(p corepipe.Packet) error
	StartStream() error
	StopStream() error
	Close() error
	Metrics() bitrate.SinkStats
	IsOpened() bool
}
