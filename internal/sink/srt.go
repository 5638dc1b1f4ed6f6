package sink

import "github.com/streamhub/livecore/internal/corepipe"

// SRTSink writes packets to an SRT connection dialed by the caller-supplied
// Dialer. The SRT handshake/congestion control itself is out of this
// library's scope (spec's external-collaborator boundary); this sink only
// owns ordered delivery, metrics surfacing, and reconnect backoff.
type SRTSink struct {
	*networkSink
}

// NewSRTSink creates an unopened SRT sink. Open honours the descriptor's
// own SRTConnectTimeoutMs when set, falling back to 5s otherwise.
func NewSRTSink(dial Dialer) *SRTSink {
	return &SRTSink{networkSink: newNetworkSink(corepipe.EndpointSRT, "srt-sink", dial, 0)}
}
