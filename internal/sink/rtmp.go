package sink

import (
	"time"

	"github.com/streamhub/livecore/internal/corepipe"
)

// RTMPSink writes FLV-muxed packets to an RTMP connection dialed by the
// caller-supplied Dialer; the RTMP handshake/chunk-stream protocol itself
// is external to this library (spec's out-of-scope transport-client
// boundary).
type RTMPSink struct {
	*networkSink
}

// NewRTMPSink creates an unopened RTMP sink with the given connect timeout
// (0 falls back to 5s).
func NewRTMPSink(dial Dialer, connectTimeout time.Duration) *RTMPSink {
	return &RTMPSink{networkSink: newNetworkSink(corepipe.EndpointRTMP, "rtmp-sink", dial, connectTimeout)}
}
